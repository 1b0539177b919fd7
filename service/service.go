// Package service holds the storefront client state and the operations
// that change it.
//
// Every asynchronous operation goes through the same lifecycle: it is
// marked Pending on dispatch, then settles as Fulfilled (its payload is
// committed to the slice it owns) or Rejected (a fixed message is
// recorded and the slice is left alone). Concurrent operations settle in
// whatever order the server answers; the last settlement for a slice
// wins.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"storefront/api"
	"storefront/logging"
	"storefront/model"
	"storefront/store"
)

var (
	// ErrNoBuyerID is returned by BuyerID when no buyer is logged in.
	// The text is shown to users verbatim; keep it capitalized.
	ErrNoBuyerID = errors.New("Unable to fetch buyer ID")

	// ErrTaggingDisabled is the cause of an image search rejected because
	// no Tagger was configured.
	ErrTaggingDisabled = errors.New("image tagging is not configured")

	errNoTags = errors.New("no tags recognised in image")
)

// State is a copy of everything the client knows. Slices in a State
// returned by Snapshot are not shared with the Service.
type State struct {
	Token            string
	Loading          bool
	Error            string
	Products         model.ProductList
	FilteredProducts model.ProductList
	Cart             model.Cart
	Order            *model.Order
	Ops              map[Op]Status
}

type Service struct {
	backend Backend
	tokens  store.Store
	tagger  Tagger
	log     logrus.FieldLogger
	metrics *Metrics

	mu       sync.Mutex
	state    State
	inflight map[Op]int
	subs     map[int]chan struct{}
	nextSub  int
}

type Option func(*Service)

// WithTagger enables SearchProductsByImage.
func WithTagger(t Tagger) Option {
	return func(s *Service) { s.tagger = t }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns an empty store. tokens is the durable store the
// session token and buyer id are written to; it should be the same
// store the backend reads its token from.
func NewService(backend Backend, tokens store.Store, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		tokens:   tokens,
		inflight: make(map[Op]int),
		subs:     make(map[int]chan struct{}),
	}
	s.state = emptyState()
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s
}

func emptyState() State {
	return State{
		Products:         model.ProductList{},
		FilteredProducts: model.ProductList{},
		Cart:             model.Cart{},
		Ops:              make(map[Op]Status),
	}
}

// ---- lifecycle ----

func (s *Service) begin(op Op) {
	s.mu.Lock()
	s.inflight[op]++
	s.state.Ops[op] = Status{Phase: Pending}
	s.state.Error = ""
	s.state.Loading = true
	s.mu.Unlock()

	s.metrics.dispatched(op)
	s.log.WithField("op", op).Debug("dispatched")
	s.notify()
}

// settle ends one in-flight op. commit runs under the lock on success.
func (s *Service) settle(op Op, start time.Time, cause error, commit func(*State)) {
	phase := Fulfilled
	s.mu.Lock()
	s.inflight[op]--
	if s.inflight[op] <= 0 {
		delete(s.inflight, op)
	}
	if cause != nil {
		phase = Rejected
		s.state.Ops[op] = Status{Phase: Rejected, Message: op.FailureMessage()}
		s.state.Error = op.FailureMessage()
	} else {
		s.state.Ops[op] = Status{Phase: Fulfilled}
		if commit != nil {
			commit(&s.state)
		}
	}
	s.state.Loading = len(s.inflight) > 0
	s.mu.Unlock()

	elapsed := time.Since(start)
	s.metrics.settled(op, phase, elapsed)
	entry := s.log.WithFields(logrus.Fields{"op": op, "phase": phase, "duration": elapsed})
	if cause != nil {
		entry.WithError(cause).Warn(op.FailureMessage())
	} else {
		entry.Debug("settled")
	}
	s.notify()
}

// run drives op through its lifecycle. call runs detached from ctx
// cancellation so an abandoned caller does not abort the request.
func run[T any](ctx context.Context, s *Service, op Op, call func(context.Context) (T, error), commit func(*State, T)) (T, error) {
	s.begin(op)
	start := time.Now()

	v, err := call(context.WithoutCancel(ctx))
	if err != nil {
		s.settle(op, start, err, nil)
		var zero T
		return zero, &OperationError{Op: op, Message: op.FailureMessage(), Err: err}
	}

	var apply func(*State)
	if commit != nil {
		apply = func(st *State) { commit(st, v) }
	}
	s.settle(op, start, nil, apply)
	return v, nil
}

// ---- auth ----

// Login authenticates and persists the session token. For buyer tokens
// that carry a subject, the subject is persisted as the buyer id.
func (s *Service) Login(ctx context.Context, email, password string, role model.Role) (string, error) {
	creds := model.Credentials{Email: strings.TrimSpace(email), Password: password, Role: role}
	return run(ctx, s, OpLogin, func(ctx context.Context) (string, error) {
		if err := creds.Validate(); err != nil {
			return "", err
		}
		token, err := s.backend.Login(ctx, creds)
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", errors.New("server returned an empty token")
		}
		if err := s.persistSession(ctx, token, role); err != nil {
			return "", err
		}
		return token, nil
	}, func(st *State, token string) {
		st.Token = token
	})
}

// persistSession writes the token last. On error no new token is stored.
func (s *Service) persistSession(ctx context.Context, token string, role model.Role) error {
	var buyerID string
	if role == model.RoleBuyer {
		if claims, err := model.ParseClaims(token); err == nil {
			buyerID = claims.Subject
		} else {
			s.log.WithError(err).Debug("session token carries no readable claims")
		}
	}
	if buyerID == "" {
		if err := s.tokens.Delete(ctx, store.BuyerIDKey); err != nil {
			return fmt.Errorf("clear buyer id: %w", err)
		}
	} else if err := s.tokens.Set(ctx, store.BuyerIDKey, buyerID); err != nil {
		return fmt.Errorf("persist buyer id: %w", err)
	}

	if err := s.tokens.Set(ctx, store.TokenKey, token); err != nil {
		err = fmt.Errorf("persist token: %w", err)
		if buyerID != "" {
			if derr := s.tokens.Delete(ctx, store.BuyerIDKey); derr != nil {
				err = errors.Join(err, fmt.Errorf("roll back buyer id: %w", derr))
			}
		}
		return err
	}
	return nil
}

// RegisterBuyer creates a buyer account. It does not log in.
func (s *Service) RegisterBuyer(ctx context.Context, r model.BuyerRegistration) (api.Ack, error) {
	if r.Role == "" {
		r.Role = model.RoleBuyer
	}
	return run(ctx, s, OpRegisterBuyer, func(ctx context.Context) (api.Ack, error) {
		if err := r.Validate(); err != nil {
			return api.Ack{}, err
		}
		return s.backend.RegisterBuyer(ctx, r)
	}, nil)
}

// RegisterSeller creates a seller account. It does not log in.
func (s *Service) RegisterSeller(ctx context.Context, r model.SellerRegistration) (api.Ack, error) {
	if r.Role == "" {
		r.Role = model.RoleSeller
	}
	return run(ctx, s, OpRegisterSeller, func(ctx context.Context) (api.Ack, error) {
		if err := r.Validate(); err != nil {
			return api.Ack{}, err
		}
		return s.backend.RegisterSeller(ctx, r)
	}, nil)
}

func (s *Service) VerifyOTP(ctx context.Context, email, otp string, role model.Role) (api.Ack, error) {
	v := model.OTPVerification{Email: strings.TrimSpace(email), OTP: strings.TrimSpace(otp), Role: role}
	return run(ctx, s, OpVerifyOTP, func(ctx context.Context) (api.Ack, error) {
		if err := v.Validate(); err != nil {
			return api.Ack{}, err
		}
		return s.backend.VerifyOTP(ctx, v)
	}, nil)
}

// ---- catalog ----

// FetchProducts replaces the product list. On failure the previous list
// is kept.
func (s *Service) FetchProducts(ctx context.Context) (model.ProductList, error) {
	return run(ctx, s, OpFetchProducts, s.backend.ListProducts, func(st *State, l model.ProductList) {
		st.Products = l
	})
}

// SearchProductsByName replaces the search results. A blank query loads
// the full catalog instead.
func (s *Service) SearchProductsByName(ctx context.Context, query string) (model.ProductList, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.FetchProducts(ctx)
	}
	return run(ctx, s, OpSearchProductsByName, func(ctx context.Context) (model.ProductList, error) {
		return s.backend.SearchProductsByName(ctx, query)
	}, setFiltered)
}

func (s *Service) SearchProductsByTags(ctx context.Context, tags []string) (model.ProductList, error) {
	tags = normalizeTags(tags)
	return run(ctx, s, OpSearchProductsByTags, func(ctx context.Context) (model.ProductList, error) {
		if len(tags) == 0 {
			return nil, errors.New("at least one tag is required")
		}
		return s.backend.SearchProductsByTags(ctx, tags)
	}, setFiltered)
}

// SearchProductsByImage tags image and searches the catalog by the tags.
func (s *Service) SearchProductsByImage(ctx context.Context, image []byte) (model.ProductList, error) {
	return run(ctx, s, OpSearchProductsByImage, func(ctx context.Context) (model.ProductList, error) {
		if s.tagger == nil {
			return nil, ErrTaggingDisabled
		}
		tags, err := s.tagger.Tags(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("tag image: %w", err)
		}
		tags = normalizeTags(tags)
		if len(tags) == 0 {
			return nil, errNoTags
		}
		s.log.WithField("tags", tags).Debug("searching by image tags")
		return s.backend.SearchProductsByTags(ctx, tags)
	}, setFiltered)
}

func setFiltered(st *State, l model.ProductList) {
	st.FilteredProducts = l
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// ---- cart & orders ----

// AddToCart adds quantity of productRef and replaces the cart with the
// server's snapshot.
func (s *Service) AddToCart(ctx context.Context, productRef string, quantity int) (model.Cart, error) {
	add := model.CartAddition{Product: strings.TrimSpace(productRef), Quantity: quantity}
	return run(ctx, s, OpAddToCart, func(ctx context.Context) (model.Cart, error) {
		if err := add.Validate(); err != nil {
			return nil, err
		}
		return s.backend.AddToCart(ctx, add)
	}, setCart)
}

func (s *Service) FetchCart(ctx context.Context) (model.Cart, error) {
	return run(ctx, s, OpFetchCart, s.backend.GetCart, setCart)
}

// RemoveFromCart removes productRef from buyerID's cart. On failure the
// cart is left as it was.
func (s *Service) RemoveFromCart(ctx context.Context, buyerID, productRef string) (model.Cart, error) {
	buyerID, productRef = strings.TrimSpace(buyerID), strings.TrimSpace(productRef)
	return run(ctx, s, OpRemoveFromCart, func(ctx context.Context) (model.Cart, error) {
		if buyerID == "" || productRef == "" {
			return nil, errors.New("buyer id and product are required")
		}
		return s.backend.RemoveFromCart(ctx, buyerID, productRef)
	}, setCart)
}

func setCart(st *State, c model.Cart) {
	if c == nil {
		c = model.Cart{}
	}
	st.Cart = c
}

// PlaceOrder orders a single product, or checks out the whole cart when
// req is empty.
func (s *Service) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	return run(ctx, s, OpPlaceOrder, func(ctx context.Context) (model.Order, error) {
		if err := req.Validate(); err != nil {
			return model.Order{}, err
		}
		return s.backend.PlaceOrder(ctx, req)
	}, func(st *State, o model.Order) {
		st.Order = &o
	})
}

// ---- local operations ----

// Logout clears the session and every slice, then removes the persisted
// token and buyer id. The state is cleared even if the store fails.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	ops := s.state.Ops
	s.state = emptyState()
	s.state.Ops = ops
	s.state.Loading = len(s.inflight) > 0
	s.mu.Unlock()
	s.notify()

	var errs []error
	for _, key := range []string{store.TokenKey, store.BuyerIDKey} {
		if err := s.tokens.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		s.log.WithError(err).Warn("logout left persisted session data behind")
	} else {
		s.log.Debug("logged out")
	}
	return err
}

// ClearSearchResults empties the search results without touching the
// product list.
func (s *Service) ClearSearchResults() {
	s.mu.Lock()
	s.state.FilteredProducts = model.ProductList{}
	s.mu.Unlock()
	s.notify()
}

// RestoreSession loads a persisted token into the state, e.g. on start.
func (s *Service) RestoreSession(ctx context.Context) (string, error) {
	token, err := s.tokens.Get(ctx, store.TokenKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("restore session: %w", err)
	}
	s.mu.Lock()
	s.state.Token = token
	s.mu.Unlock()
	s.notify()
	return token, nil
}

// BuyerID returns the persisted id of the logged in buyer.
func (s *Service) BuyerID(ctx context.Context) (string, error) {
	id, err := s.tokens.Get(ctx, store.BuyerIDKey)
	if errors.Is(err, store.ErrNotFound) || (err == nil && id == "") {
		return "", ErrNoBuyerID
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoBuyerID, err)
	}
	return id, nil
}

// ---- views ----

func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.Products = slices.Clone(s.state.Products)
	st.FilteredProducts = slices.Clone(s.state.FilteredProducts)
	st.Cart = slices.Clone(s.state.Cart)
	if s.state.Order != nil {
		o := *s.state.Order
		o.Items = slices.Clone(o.Items)
		st.Order = &o
	}
	st.Ops = make(map[Op]Status, len(s.state.Ops))
	for k, v := range s.state.Ops {
		st.Ops[k] = v
	}
	return st
}

// Status returns the last known status of op; Idle if never dispatched.
func (s *Service) Status(op Op) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Ops[op]
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce: a slow reader sees one pending signal, not one
// per change. The returned func unsubscribes and closes the channel.
func (s *Service) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
