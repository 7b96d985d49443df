package core

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"cruciblecore/internal/infra/persistence/memory"
	"cruciblecore/pkg/domain"
)

// TransferFunc moves value to an address through the external transfer
// collaborator. A non-nil error unwinds the whole enclosing operation.
// The collaborator runs inside the mutation's critical section: calling any
// service mutator from it fails with a reentrant-call error, and service
// reads must not be called at all — they block on the store lock held by the
// in-flight transaction.
type TransferFunc func(ctx context.Context, to Address, amount uint64) error

// ConversionSink receives committed conversion records for archival.
type ConversionSink interface {
	Record(ctx context.Context, record ConversionRecord) error
}

// FixedConfig holds the addresses and identifiers established once at system
// start and never changed thereafter.
type FixedConfig struct {
	Owner    Address
	Keeper   Address
	Treasury Address
	Crucible Address
	// DomainTag separates conversion identifiers between deployments. When
	// zero it is drawn from the platform CSPRNG at construction.
	DomainTag Hash
	ChainID   uint64
}

// Service exposes the ledger operations: deposits, recipe administration,
// keeper-triggered resolutions, and the crucible withdrawal path. All
// mutating operations run through a single transactional store and hold a
// reentrancy guard, so the outbound transfer legs can never recurse into a
// half-applied mutation.
type Service struct {
	store    PersistentStore
	cfg      FixedConfig
	transfer TransferFunc

	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	events  EventRecorder
	sink    ConversionSink

	busy      atomic.Bool
	nowFn     func() time.Time
	entropyFn func() [32]byte
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) { s.metrics = rec }
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithEventRecorder sets the mutation event recorder.
func WithEventRecorder(rec EventRecorder) Option {
	return func(s *Service) { s.events = rec }
}

// WithConversionSink sets the archival sink for committed conversions.
func WithConversionSink(sink ConversionSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// WithEntropyFunc overrides the conversion id entropy source, for tests.
func WithEntropyFunc(fn func() [32]byte) Option {
	return func(s *Service) {
		if fn != nil {
			s.entropyFn = fn
		}
	}
}

// NewService constructs a service backed by the supplied store. A nil
// transfer function treats every outbound leg as succeeding.
func NewService(store PersistentStore, cfg FixedConfig, transfer TransferFunc, opts ...Option) *Service {
	if cfg.DomainTag.IsZero() {
		cfg.DomainTag = Hash(domain.NewEntropy())
	}
	if transfer == nil {
		transfer = func(context.Context, Address, uint64) error { return nil }
	}
	s := &Service{
		store:     store,
		cfg:       cfg,
		transfer:  transfer,
		logger:    noopLogger{},
		nowFn:     func() time.Time { return time.Now().UTC() },
		entropyFn: domain.NewEntropy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// given rules engine.
func NewInMemoryService(engine *RulesEngine, cfg FixedConfig, transfer TransferFunc, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), cfg, transfer, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Config returns the fixed configuration established at construction.
func (s *Service) Config() FixedConfig { return s.cfg }

func (s *Service) requireOwner(caller Address) error {
	if caller != s.cfg.Owner {
		return domain.AuthorizationError{Role: "owner", Caller: caller}
	}
	return nil
}

func (s *Service) requireKeeper(caller Address) error {
	if caller != s.cfg.Keeper {
		return domain.AuthorizationError{Role: "keeper", Caller: caller}
	}
	return nil
}

// acquire claims the single mutation slot. Every mutating operation holds
// it, so nested calls from transfer callbacks land here and are rejected
// instead of observing partial state.
func (s *Service) acquire(op string) error {
	if !s.busy.CompareAndSwap(false, true) {
		return domain.StateError{Code: domain.CodeReentrantCall, Reason: op + " rejected: mutation already in flight"}
	}
	return nil
}

func (s *Service) release() { s.busy.Store(false) }

// Deposit credits a vessel, creating it on first touch. Open to any caller.
func (s *Service) Deposit(ctx context.Context, vesselID, label Hash, amount uint64) (Vessel, Result, error) {
	var (
		credited Vessel
		created  bool
		res      Result
	)
	err := s.instrument(ctx, "deposit", func(ctx context.Context) error {
		if amount == 0 {
			return domain.ValidationError{Code: domain.CodeZeroAmount, Field: "amount", Reason: "deposit amount must be positive"}
		}
		if err := s.acquire("deposit"); err != nil {
			return err
		}
		defer s.release()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if tx.Params().Paused {
				return domain.StateError{Code: domain.CodePaused, Reason: "ledger is paused"}
			}
			var txErr error
			credited, created, txErr = tx.CreditVessel(vesselID, label, amount)
			return txErr
		})
		return err
	})
	if err != nil {
		return Vessel{}, res, err
	}
	s.emit(ctx, EventDeposit, s.store.Params().DepositSeq, map[string]any{
		"vessel":  vesselID.Hex(),
		"amount":  amount,
		"balance": credited.Balance,
		"created": created,
	})
	return credited, res, nil
}

// Resolve executes one conversion: validates the request against registry,
// configuration and ledger state, debits the vessel, mints an immutable
// record, and pays out the net and fee legs. Keeper only; all or nothing.
func (s *Service) Resolve(ctx context.Context, caller, beneficiary Address, vesselID Hash, recipeID, inputAmount uint64) (ConversionRecord, Result, error) {
	var (
		record ConversionRecord
		res    Result
	)
	err := s.instrument(ctx, "resolve", func(ctx context.Context) error {
		if err := s.requireKeeper(caller); err != nil {
			return err
		}
		if err := s.acquire("resolve"); err != nil {
			return err
		}
		defer s.release()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			params := tx.Params()
			if params.Paused {
				return domain.StateError{Code: domain.CodePaused, Reason: "ledger is paused"}
			}
			if beneficiary.IsZero() {
				return domain.ValidationError{Code: domain.CodeZeroAddress, Field: "beneficiary", Reason: "beneficiary must be non-zero"}
			}
			recipe, ok := tx.FindRecipe(recipeID)
			if !ok {
				return domain.NotFoundError{Entity: EntityRecipe, ID: strconv.FormatUint(recipeID, 10)}
			}
			if !recipe.Active {
				return domain.StateError{Code: domain.CodeRecipeInactive, Reason: "recipe " + strconv.FormatUint(recipeID, 10) + " is inactive"}
			}
			if inputAmount < recipe.MinInput {
				return domain.StateError{Code: domain.CodeInsufficientInput, Reason: "input below recipe minimum"}
			}
			if _, err := tx.DebitVessel(vesselID, inputAmount); err != nil {
				return err
			}

			yield := domain.ComputeYield(inputAmount, recipe.YieldBps)
			fee := domain.ComputeFee(yield, params.FeeBps)
			updated, err := tx.UpdateParams(func(p *LedgerParams) error {
				p.ResolutionSeq++
				if yield > p.Pool {
					p.Pool = 0
				} else {
					p.Pool -= yield
				}
				return nil
			})
			if err != nil {
				return err
			}

			id := domain.DeriveConversionID(domain.ConversionSeed{
				DomainTag:   s.cfg.DomainTag,
				ChainID:     s.cfg.ChainID,
				At:          s.nowFn(),
				Seq:         updated.ResolutionSeq,
				Beneficiary: beneficiary,
				VesselID:    vesselID,
				RecipeID:    recipeID,
				InputAmount: inputAmount,
				Entropy:     s.entropyFn(),
			})
			record, err = tx.AppendConversion(ConversionRecord{
				ID:          id,
				Beneficiary: beneficiary,
				RecipeID:    recipeID,
				InputAmount: inputAmount,
				YieldAmount: yield,
				FeeAmount:   fee,
				Seq:         updated.ResolutionSeq,
			})
			if err != nil {
				return err
			}
			if _, err := tx.AddRecipeStats(recipeID, inputAmount); err != nil {
				return err
			}

			// Both transfer legs run inside the transaction scope: a failure
			// on either unwinds the debit, the record and the counters.
			net := yield - fee
			if err := s.transfer(ctx, beneficiary, net); err != nil {
				return domain.TransferError{Leg: "payout", To: beneficiary, Amount: net, Err: err}
			}
			if err := s.transfer(ctx, s.cfg.Treasury, fee); err != nil {
				return domain.TransferError{Leg: "fee", To: s.cfg.Treasury, Amount: fee, Err: err}
			}
			return nil
		})
		return err
	})
	if err != nil {
		return ConversionRecord{}, res, err
	}
	s.emit(ctx, EventConversionResolved, record.Seq, map[string]any{
		"conversion":  record.ID.Hex(),
		"beneficiary": record.Beneficiary.Hex(),
		"vessel":      vesselID.Hex(),
		"recipe":      record.RecipeID,
		"input":       record.InputAmount,
		"yield":       record.YieldAmount,
		"fee":         record.FeeAmount,
	})
	if s.sink != nil {
		if err := s.sink.Record(ctx, record); err != nil {
			s.logger.Warn("conversion archive failed", "conversion", record.ID.Hex(), "error", err)
		}
	}
	return record, res, nil
}

// CreateRecipe registers a single conversion recipe. Owner only.
func (s *Service) CreateRecipe(ctx context.Context, caller Address, spec RecipeSpec) (Recipe, Result, error) {
	var (
		created Recipe
		res     Result
	)
	err := s.instrument(ctx, "create_recipe", func(ctx context.Context) error {
		if err := s.requireOwner(caller); err != nil {
			return err
		}
		if err := s.acquire("create_recipe"); err != nil {
			return err
		}
		defer s.release()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateRecipe(spec)
			return txErr
		})
		return err
	})
	if err != nil {
		return Recipe{}, res, err
	}
	s.emit(ctx, EventRecipeCreated, created.CreatedSeq, map[string]any{
		"recipe":      created.ID,
		"fingerprint": created.Fingerprint.Hex(),
		"min_input":   created.MinInput,
		"yield_bps":   created.YieldBps,
	})
	return created, res, nil
}

// CreateRecipeBatch registers up to MaxRecipeBatch recipes atomically: any
// invalid entry, or a post-batch total beyond capacity, rejects the whole
// batch with the recipe counter unchanged. Owner only.
func (s *Service) CreateRecipeBatch(ctx context.Context, caller Address, specs []RecipeSpec) ([]Recipe, Result, error) {
	var (
		created []Recipe
		res     Result
	)
	err := s.instrument(ctx, "create_recipe_batch", func(ctx context.Context) error {
		if err := s.requireOwner(caller); err != nil {
			return err
		}
		if len(specs) == 0 {
			return domain.ValidationError{Code: domain.CodeEmptyBatch, Field: "specs", Reason: "batch must not be empty"}
		}
		if len(specs) > domain.MaxRecipeBatch {
			return domain.ValidationError{Code: domain.CodeBatchTooLarge, Field: "specs", Reason: "batch exceeds limit of " + strconv.Itoa(domain.MaxRecipeBatch)}
		}
		if err := s.acquire("create_recipe_batch"); err != nil {
			return err
		}
		defer s.release()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if tx.Params().RecipeSeq+uint64(len(specs)) > domain.MaxRecipes {
				return domain.StateError{Code: domain.CodeRegistryFull, Reason: "batch would exceed registry ceiling"}
			}
			created = created[:0]
			for _, spec := range specs {
				recipe, txErr := tx.CreateRecipe(spec)
				if txErr != nil {
					return txErr
				}
				created = append(created, recipe)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, res, err
	}
	ids := make([]uint64, len(created))
	for i, recipe := range created {
		ids[i] = recipe.ID
	}
	s.emit(ctx, EventRecipeBatchCreated, s.store.Params().RecipeSeq, map[string]any{"recipes": ids})
	return created, res, nil
}

// SetRecipeActive flips a recipe's active flag. Owner only.
func (s *Service) SetRecipeActive(ctx context.Context, caller Address, recipeID uint64, active bool) (Recipe, Result, error) {
	var (
		updated Recipe
		res     Result
	)
	err := s.instrument(ctx, "set_recipe_active", func(ctx context.Context) error {
		if err := s.requireOwner(caller); err != nil {
			return err
		}
		if err := s.acquire("set_recipe_active"); err != nil {
			return err
		}
		defer s.release()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateRecipe(recipeID, func(r *Recipe) error {
				r.Active = active
				return nil
			})
			return txErr
		})
		return err
	})
	if err != nil {
		return Recipe{}, res, err
	}
	s.emit(ctx, EventRecipeToggled, s.store.Params().RecipeSeq, map[string]any{
		"recipe": updated.ID,
		"active": updated.Active,
	})
	return updated, res, nil
}

// SetFeeBps updates the fee rate, returning the previous value. Owner only.
func (s *Service) SetFeeBps(ctx context.Context, caller Address, feeBps uint64) (uint64, Result, error) {
	var (
		previous uint64
		res      Result
	)
	err := s.instrument(ctx, "set_fee_bps", func(ctx context.Context) error {
		if err := s.requireOwner(caller); err != nil {
			return err
		}
		if feeBps > domain.MaxFeeBps {
			return domain.ValidationError{Code: domain.CodeInvalidFeeRatio, Field: "fee_bps", Reason: "fee rate above ceiling of " + strconv.Itoa(domain.MaxFeeBps)}
		}
		if err := s.acquire("set_fee_bps"); err != nil {
			return err
		}
		defer s.release()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			_, txErr := tx.UpdateParams(func(p *LedgerParams) error {
				previous = p.FeeBps
				p.FeeBps = feeBps
				return nil
			})
			return txErr
		})
		return err
	})
	if err != nil {
		return 0, res, err
	}
	s.emit(ctx, EventFeeChanged, s.store.Params().ResolutionSeq, map[string]any{
		"previous_bps": previous,
		"current_bps":  feeBps,
	})
	return previous, res, nil
}

// SetPaused sets the pause flag. Owner only, unconditional.
func (s *Service) SetPaused(ctx context.Context, caller Address, paused bool) (Result, error) {
	var res Result
	err := s.instrument(ctx, "set_paused", func(ctx context.Context) error {
		if err := s.requireOwner(caller); err != nil {
			return err
		}
		if err := s.acquire("set_paused"); err != nil {
			return err
		}
		defer s.release()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			_, txErr := tx.UpdateParams(func(p *LedgerParams) error {
				p.Paused = paused
				return nil
			})
			return txErr
		})
		return err
	})
	if err != nil {
		return res, err
	}
	s.emit(ctx, EventPauseChanged, s.store.Params().ResolutionSeq, map[string]any{"paused": paused})
	return res, nil
}

// UpdateVesselLabel overwrites a vessel's label, returning the previous one.
// No existence check: a label may be set before any deposit. Owner only.
func (s *Service) UpdateVesselLabel(ctx context.Context, caller Address, vesselID, label Hash) (Hash, Result, error) {
	var (
		previous Hash
		res      Result
	)
	err := s.instrument(ctx, "update_vessel_label", func(ctx context.Context) error {
		if err := s.requireOwner(caller); err != nil {
			return err
		}
		if err := s.acquire("update_vessel_label"); err != nil {
			return err
		}
		defer s.release()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			previous, txErr = tx.SetVesselLabel(vesselID, label)
			return txErr
		})
		return err
	})
	if err != nil {
		return Hash{}, res, err
	}
	s.emit(ctx, EventVesselLabelUpdated, s.store.Params().DepositSeq, map[string]any{
		"vessel":   vesselID.Hex(),
		"previous": previous.Hex(),
		"label":    label.Hex(),
	})
	return previous, res, nil
}

// WithdrawCrucible transfers residual ledger balance to the fixed crucible
// address, clamping the requested amount to what is available. Owner only.
func (s *Service) WithdrawCrucible(ctx context.Context, caller Address, amount uint64) (uint64, Result, error) {
	var (
		withdrawn uint64
		res       Result
	)
	err := s.instrument(ctx, "withdraw_crucible", func(ctx context.Context) error {
		if err := s.requireOwner(caller); err != nil {
			return err
		}
		if amount == 0 {
			return domain.ValidationError{Code: domain.CodeZeroAmount, Field: "amount", Reason: "withdrawal amount must be positive"}
		}
		if err := s.acquire("withdraw_crucible"); err != nil {
			return err
		}
		defer s.release()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			params := tx.Params()
			if params.Pool == 0 {
				return domain.StateError{Code: domain.CodeInsufficientBalance, Reason: "no residual balance to withdraw"}
			}
			withdrawn = amount
			if withdrawn > params.Pool {
				withdrawn = params.Pool
			}
			if _, txErr := tx.UpdateParams(func(p *LedgerParams) error {
				p.Pool -= withdrawn
				return nil
			}); txErr != nil {
				return txErr
			}
			if txErr := s.transfer(ctx, s.cfg.Crucible, withdrawn); txErr != nil {
				return domain.TransferError{Leg: "crucible", To: s.cfg.Crucible, Amount: withdrawn, Err: txErr}
			}
			return nil
		})
		return err
	})
	if err != nil {
		return 0, res, err
	}
	s.emit(ctx, EventCrucibleWithdrawal, s.store.Params().ResolutionSeq, map[string]any{
		"requested": amount,
		"withdrawn": withdrawn,
	})
	return withdrawn, res, nil
}

// Params returns the current global configuration block.
func (s *Service) Params() LedgerParams { return s.store.Params() }

// GetRecipe returns one recipe by id.
func (s *Service) GetRecipe(id uint64) (Recipe, bool) { return s.store.GetRecipe(id) }

// ListRecipes returns all recipes in creation order.
func (s *Service) ListRecipes() []Recipe { return s.store.ListRecipes() }

// RecipeIDs enumerates all assigned recipe ids in creation order.
func (s *Service) RecipeIDs() []uint64 { return s.store.RecipeIDs() }

// GetRecipeStats returns aggregate resolution stats for one recipe.
func (s *Service) GetRecipeStats(id uint64) (RecipeStats, bool) { return s.store.GetRecipeStats(id) }

// GetVessel returns one vessel by id.
func (s *Service) GetVessel(id Hash) (Vessel, bool) { return s.store.GetVessel(id) }

// ListVessels returns all vessels in first-deposit order.
func (s *Service) ListVessels() []Vessel { return s.store.ListVessels() }

// VesselIDs enumerates all vessel ids in first-deposit order.
func (s *Service) VesselIDs() []Hash { return s.store.VesselIDs() }

// GetConversion returns one conversion record by id.
func (s *Service) GetConversion(id Hash) (ConversionRecord, bool) { return s.store.GetConversion(id) }

// ConversionIDs enumerates all conversion record ids in resolution order.
func (s *Service) ConversionIDs() []Hash { return s.store.ConversionIDs() }
