// Package memory provides an in-memory implementation of the ledger
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"cruciblecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Recipe aliases domain.Recipe for in-memory persistence operations.
	Recipe = domain.Recipe
	// RecipeSpec aliases domain.RecipeSpec.
	RecipeSpec = domain.RecipeSpec
	// RecipeStats aliases domain.RecipeStats.
	RecipeStats = domain.RecipeStats
	// Vessel aliases domain.Vessel.
	Vessel = domain.Vessel
	// ConversionRecord aliases domain.ConversionRecord.
	ConversionRecord = domain.ConversionRecord
	// LedgerParams aliases domain.LedgerParams.
	LedgerParams = domain.LedgerParams
	// Hash aliases domain.Hash.
	Hash = domain.Hash
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type ledgerState struct {
	recipes         map[uint64]Recipe
	recipeOrder     []uint64
	recipeStats     map[uint64]RecipeStats
	vessels         map[Hash]Vessel
	vesselOrder     []Hash
	conversions     map[Hash]ConversionRecord
	conversionOrder []Hash
	params          LedgerParams
}

// RecipeBucket groups recipe state for snapshot persistence.
type RecipeBucket struct {
	Recipes map[uint64]Recipe      `json:"recipes"`
	Order   []uint64               `json:"order"`
	Stats   map[uint64]RecipeStats `json:"stats"`
}

// VesselBucket groups vessel state for snapshot persistence.
type VesselBucket struct {
	Vessels map[Hash]Vessel `json:"vessels"`
	Order   []Hash          `json:"order"`
}

// ConversionBucket groups the conversion log for snapshot persistence.
type ConversionBucket struct {
	Records map[Hash]ConversionRecord `json:"records"`
	Order   []Hash                    `json:"order"`
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Recipes     RecipeBucket     `json:"recipes"`
	Vessels     VesselBucket     `json:"vessels"`
	Conversions ConversionBucket `json:"conversions"`
	Params      LedgerParams     `json:"params"`
}

func newLedgerState() ledgerState {
	return ledgerState{
		recipes:     make(map[uint64]Recipe),
		recipeStats: make(map[uint64]RecipeStats),
		vessels:     make(map[Hash]Vessel),
		conversions: make(map[Hash]ConversionRecord),
		params:      domain.DefaultParams(),
	}
}

func (s ledgerState) clone() ledgerState {
	out := ledgerState{
		recipes:         make(map[uint64]Recipe, len(s.recipes)),
		recipeOrder:     append([]uint64(nil), s.recipeOrder...),
		recipeStats:     make(map[uint64]RecipeStats, len(s.recipeStats)),
		vessels:         make(map[Hash]Vessel, len(s.vessels)),
		vesselOrder:     append([]Hash(nil), s.vesselOrder...),
		conversions:     make(map[Hash]ConversionRecord, len(s.conversions)),
		conversionOrder: append([]Hash(nil), s.conversionOrder...),
		params:          s.params,
	}
	for k, v := range s.recipes {
		out.recipes[k] = v
	}
	for k, v := range s.recipeStats {
		out.recipeStats[k] = v
	}
	for k, v := range s.vessels {
		out.vessels[k] = v
	}
	for k, v := range s.conversions {
		out.conversions[k] = v
	}
	return out
}

func snapshotFromLedgerState(state ledgerState) Snapshot {
	snap := Snapshot{
		Recipes: RecipeBucket{
			Recipes: make(map[uint64]Recipe, len(state.recipes)),
			Order:   append([]uint64(nil), state.recipeOrder...),
			Stats:   make(map[uint64]RecipeStats, len(state.recipeStats)),
		},
		Vessels: VesselBucket{
			Vessels: make(map[Hash]Vessel, len(state.vessels)),
			Order:   append([]Hash(nil), state.vesselOrder...),
		},
		Conversions: ConversionBucket{
			Records: make(map[Hash]ConversionRecord, len(state.conversions)),
			Order:   append([]Hash(nil), state.conversionOrder...),
		},
		Params: state.params,
	}
	for k, v := range state.recipes {
		snap.Recipes.Recipes[k] = v
	}
	for k, v := range state.recipeStats {
		snap.Recipes.Stats[k] = v
	}
	for k, v := range state.vessels {
		snap.Vessels.Vessels[k] = v
	}
	for k, v := range state.conversions {
		snap.Conversions.Records[k] = v
	}
	return snap
}

func ledgerStateFromSnapshot(snap Snapshot) ledgerState {
	state := newLedgerState()
	for k, v := range snap.Recipes.Recipes {
		state.recipes[k] = v
	}
	state.recipeOrder = append([]uint64(nil), snap.Recipes.Order...)
	for k, v := range snap.Recipes.Stats {
		state.recipeStats[k] = v
	}
	for k, v := range snap.Vessels.Vessels {
		state.vessels[k] = v
	}
	state.vesselOrder = append([]Hash(nil), snap.Vessels.Order...)
	for k, v := range snap.Conversions.Records {
		state.conversions[k] = v
	}
	state.conversionOrder = append([]Hash(nil), snap.Conversions.Order...)
	if snap.Params != (LedgerParams{}) {
		state.params = snap.Params
	}
	return state
}

// Store provides an in-memory transactional store for the ledger domain.
type Store struct {
	mu     sync.RWMutex
	state  ledgerState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newLedgerState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromLedgerState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = ledgerStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc swaps the time provider; intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	state   ledgerState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state.
type transactionView struct {
	state *ledgerState
}

func newTransactionView(state *ledgerState) TransactionView {
	return transactionView{state: state}
}

// Params returns the parameter block within the snapshot.
func (v transactionView) Params() LedgerParams {
	return v.state.params
}

// ListRecipes returns all recipes in creation order.
func (v transactionView) ListRecipes() []Recipe {
	out := make([]Recipe, 0, len(v.state.recipeOrder))
	for _, id := range v.state.recipeOrder {
		out = append(out, v.state.recipes[id])
	}
	return out
}

// ListVessels returns all vessels in first-deposit order.
func (v transactionView) ListVessels() []Vessel {
	out := make([]Vessel, 0, len(v.state.vesselOrder))
	for _, id := range v.state.vesselOrder {
		out = append(out, v.state.vessels[id])
	}
	return out
}

// ListConversions returns the conversion log in resolution order.
func (v transactionView) ListConversions() []ConversionRecord {
	out := make([]ConversionRecord, 0, len(v.state.conversionOrder))
	for _, id := range v.state.conversionOrder {
		out = append(out, v.state.conversions[id])
	}
	return out
}

// RecipeStats returns aggregate stats for a recipe, zero when untouched.
func (v transactionView) RecipeStats(id uint64) RecipeStats {
	return v.state.recipeStats[id]
}

// FindRecipe retrieves a recipe by id from the snapshot.
func (v transactionView) FindRecipe(id uint64) (Recipe, bool) {
	r, ok := v.state.recipes[id]
	return r, ok
}

// FindVessel retrieves a vessel by id from the snapshot.
func (v transactionView) FindVessel(id Hash) (Vessel, bool) {
	ves, ok := v.state.vessels[id]
	return ves, ok
}

// FindConversion retrieves a conversion record by id from the snapshot.
func (v transactionView) FindConversion(id Hash) (ConversionRecord, bool) {
	rec, ok := v.state.conversions[id]
	return rec, ok
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The copy is committed only when fn and every registered rule
// succeed; any error leaves the store untouched.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Params returns the parameter block within the transaction scope.
func (tx *transaction) Params() LedgerParams {
	return tx.state.params
}

// UpdateParams mutates the global parameter block.
func (tx *transaction) UpdateParams(mutator func(*LedgerParams) error) (LedgerParams, error) {
	before := tx.state.params
	next := before
	if err := mutator(&next); err != nil {
		return LedgerParams{}, err
	}
	tx.state.params = next
	tx.recordChange(Change{Entity: domain.EntityParams, Action: domain.ActionUpdate, Before: before, After: next})
	return next, nil
}

// FindRecipe exposes recipe lookup within the transaction scope.
func (tx *transaction) FindRecipe(id uint64) (Recipe, bool) {
	r, ok := tx.state.recipes[id]
	return r, ok
}

// RecipeStats exposes aggregate stats lookup within the transaction scope.
func (tx *transaction) RecipeStats(id uint64) RecipeStats {
	return tx.state.recipeStats[id]
}

// CreateRecipe validates the spec, assigns the next sequential id and stores
// the recipe as active. The registry ceiling is enforced here as the final
// guard behind the service-level checks.
func (tx *transaction) CreateRecipe(spec RecipeSpec) (Recipe, error) {
	if spec.Fingerprint.IsZero() {
		return Recipe{}, domain.ValidationError{Code: domain.CodeInvalidFormula, Field: "fingerprint", Reason: "formula fingerprint must be nonzero"}
	}
	if spec.YieldBps < domain.MinYieldBps || spec.YieldBps > domain.MaxYieldBps {
		return Recipe{}, domain.ValidationError{Code: domain.CodeInvalidYield, Field: "yield_bps", Reason: fmt.Sprintf("yield ratio %d outside [%d,%d]", spec.YieldBps, domain.MinYieldBps, domain.MaxYieldBps)}
	}
	if tx.state.params.RecipeSeq >= domain.MaxRecipes {
		return Recipe{}, domain.StateError{Code: domain.CodeRegistryFull, Reason: fmt.Sprintf("recipe registry holds the maximum of %d entries", domain.MaxRecipes)}
	}
	tx.state.params.RecipeSeq++
	recipe := Recipe{
		ID:          tx.state.params.RecipeSeq,
		Fingerprint: spec.Fingerprint,
		MinInput:    spec.MinInput,
		YieldBps:    spec.YieldBps,
		Active:      true,
		CreatedSeq:  tx.state.params.RecipeSeq,
		CreatedAt:   tx.now,
	}
	tx.state.recipes[recipe.ID] = recipe
	tx.state.recipeOrder = append(tx.state.recipeOrder, recipe.ID)
	tx.recordChange(Change{Entity: domain.EntityRecipe, Action: domain.ActionCreate, After: recipe})
	return recipe, nil
}

// UpdateRecipe mutates a recipe using the provided mutator. Identity,
// fingerprint, minimum input and yield ratio are pinned back after the
// mutator runs; only the active flag is effectively mutable.
func (tx *transaction) UpdateRecipe(id uint64, mutator func(*Recipe) error) (Recipe, error) {
	current, ok := tx.state.recipes[id]
	if !ok {
		return Recipe{}, domain.NotFoundError{Entity: domain.EntityRecipe, ID: fmt.Sprintf("%d", id)}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Recipe{}, err
	}
	current.ID = before.ID
	current.Fingerprint = before.Fingerprint
	current.MinInput = before.MinInput
	current.YieldBps = before.YieldBps
	current.CreatedSeq = before.CreatedSeq
	current.CreatedAt = before.CreatedAt
	tx.state.recipes[id] = current
	tx.recordChange(Change{Entity: domain.EntityRecipe, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// AddRecipeStats bumps the per-recipe resolution count and input volume.
func (tx *transaction) AddRecipeStats(id uint64, input uint64) (RecipeStats, error) {
	if _, ok := tx.state.recipes[id]; !ok {
		return RecipeStats{}, domain.NotFoundError{Entity: domain.EntityRecipe, ID: fmt.Sprintf("%d", id)}
	}
	stats := tx.state.recipeStats[id]
	stats.Resolutions++
	stats.InputVolume += input
	tx.state.recipeStats[id] = stats
	return stats, nil
}

// FindVessel exposes vessel lookup within the transaction scope.
func (tx *transaction) FindVessel(id Hash) (Vessel, bool) {
	v, ok := tx.state.vessels[id]
	return v, ok
}

// CreditVessel credits a vessel balance, lazily creating the vessel on its
// first deposit. The returned bool reports whether the vessel was created by
// this call; only then is it appended to the enumeration order.
func (tx *transaction) CreditVessel(id Hash, label Hash, amount uint64) (Vessel, bool, error) {
	if amount == 0 {
		return Vessel{}, false, domain.ValidationError{Code: domain.CodeZeroAmount, Field: "amount", Reason: "deposit amount must be nonzero"}
	}
	vessel, exists := tx.state.vessels[id]
	if amount > math.MaxUint64-vessel.Balance {
		return Vessel{}, false, domain.ValidationError{Code: domain.CodeAmountOverflow, Field: "amount", Reason: "deposit would overflow the vessel balance"}
	}
	if amount > math.MaxUint64-tx.state.params.Pool {
		return Vessel{}, false, domain.ValidationError{Code: domain.CodeAmountOverflow, Field: "amount", Reason: "deposit would overflow the ledger pool"}
	}
	created := false
	if !exists || vessel.CreatedAt.IsZero() {
		created = true
		tx.state.params.DepositSeq++
		vessel.ID = id
		vessel.Label = label
		vessel.CreatedAt = tx.now
		vessel.CreatedSeq = tx.state.params.DepositSeq
		tx.state.vesselOrder = append(tx.state.vesselOrder, id)
	} else {
		tx.state.params.DepositSeq++
	}
	vessel.Balance += amount
	tx.state.params.Pool += amount
	tx.state.vessels[id] = vessel
	action := domain.ActionUpdate
	if created {
		action = domain.ActionCreate
	}
	tx.recordChange(Change{Entity: domain.EntityVessel, Action: action, After: vessel})
	return vessel, created, nil
}

// DebitVessel decreases a vessel balance, rejecting any debit that would
// take the balance below zero.
func (tx *transaction) DebitVessel(id Hash, amount uint64) (Vessel, error) {
	vessel, ok := tx.state.vessels[id]
	if !ok {
		vessel = Vessel{ID: id}
	}
	if vessel.Balance < amount {
		return Vessel{}, domain.StateError{Code: domain.CodeInsufficientBalance, Reason: fmt.Sprintf("vessel %s balance short of %d", id, amount)}
	}
	before := vessel
	vessel.Balance -= amount
	tx.state.vessels[id] = vessel
	tx.recordChange(Change{Entity: domain.EntityVessel, Action: domain.ActionUpdate, Before: before, After: vessel})
	return vessel, nil
}

// SetVesselLabel overwrites a vessel label unconditionally and returns the
// previous label. A label may be set before any deposit; the vessel record
// is materialized without joining the enumeration until first credit.
func (tx *transaction) SetVesselLabel(id Hash, label Hash) (Hash, error) {
	vessel := tx.state.vessels[id]
	before := vessel
	previous := vessel.Label
	vessel.ID = id
	vessel.Label = label
	tx.state.vessels[id] = vessel
	tx.recordChange(Change{Entity: domain.EntityVessel, Action: domain.ActionUpdate, Before: before, After: vessel})
	return previous, nil
}

// AppendConversion writes an immutable record into the append-only log.
// Records are never overwritten; a duplicate id is a hard error.
func (tx *transaction) AppendConversion(record ConversionRecord) (ConversionRecord, error) {
	if record.ID.IsZero() {
		return ConversionRecord{}, domain.ValidationError{Code: domain.CodeZeroAddress, Field: "conversion_id", Reason: "conversion id must be nonzero"}
	}
	if _, exists := tx.state.conversions[record.ID]; exists {
		return ConversionRecord{}, fmt.Errorf("conversion %s already recorded", record.ID)
	}
	record.CreatedAt = tx.now
	tx.state.conversions[record.ID] = record
	tx.state.conversionOrder = append(tx.state.conversionOrder, record.ID)
	tx.recordChange(Change{Entity: domain.EntityConversion, Action: domain.ActionCreate, After: record})
	return record, nil
}

// FindConversion exposes record lookup within the transaction scope.
func (tx *transaction) FindConversion(id Hash) (ConversionRecord, bool) {
	rec, ok := tx.state.conversions[id]
	return rec, ok
}

// Params returns the committed parameter block.
func (s *Store) Params() LedgerParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.params
}

// GetRecipe returns a recipe by id.
func (s *Store) GetRecipe(id uint64) (Recipe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.recipes[id]
	return r, ok
}

// ListRecipes returns all recipes in creation order.
func (s *Store) ListRecipes() []Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Recipe, 0, len(s.state.recipeOrder))
	for _, id := range s.state.recipeOrder {
		out = append(out, s.state.recipes[id])
	}
	return out
}

// RecipeIDs enumerates recipe ids in creation order.
func (s *Store) RecipeIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint64(nil), s.state.recipeOrder...)
}

// GetRecipeStats returns aggregate stats for a recipe.
func (s *Store) GetRecipeStats(id uint64) (RecipeStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.state.recipes[id]; !ok {
		return RecipeStats{}, false
	}
	return s.state.recipeStats[id], true
}

// GetVessel returns a vessel by id.
func (s *Store) GetVessel(id Hash) (Vessel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.vessels[id]
	return v, ok
}

// ListVessels returns all vessels in first-deposit order.
func (s *Store) ListVessels() []Vessel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Vessel, 0, len(s.state.vesselOrder))
	for _, id := range s.state.vesselOrder {
		out = append(out, s.state.vessels[id])
	}
	return out
}

// VesselIDs enumerates vessel ids in first-deposit order.
func (s *Store) VesselIDs() []Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Hash(nil), s.state.vesselOrder...)
}

// GetConversion returns a conversion record by id.
func (s *Store) GetConversion(id Hash) (ConversionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.conversions[id]
	return rec, ok
}

// ConversionIDs enumerates conversion ids in resolution order.
func (s *Store) ConversionIDs() []Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Hash(nil), s.state.conversionOrder...)
}
