package core

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"cruciblecore/pkg/domain"
)

func addr(tag string) Address {
	var a Address
	copy(a[:], tag)
	return a
}

var (
	ownerAddr    = addr("owner")
	keeperAddr   = addr("keeper")
	treasuryAddr = addr("treasury")
	crucibleAddr = addr("crucible")
	beneAddr     = addr("beneficiary")
)

type transferCall struct {
	to     Address
	amount uint64
}

type transferLog struct {
	calls []transferCall
	fail  func(to Address, amount uint64) error
}

func (l *transferLog) fn(_ context.Context, to Address, amount uint64) error {
	if l.fail != nil {
		if err := l.fail(to, amount); err != nil {
			return err
		}
	}
	l.calls = append(l.calls, transferCall{to: to, amount: amount})
	return nil
}

func testConfig() FixedConfig {
	return FixedConfig{
		Owner:     ownerAddr,
		Keeper:    keeperAddr,
		Treasury:  treasuryAddr,
		Crucible:  crucibleAddr,
		DomainTag: domain.HashOf([]byte("test-ledger")),
		ChainID:   1,
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *transferLog) {
	t.Helper()
	transfers := &transferLog{}
	svc := NewInMemoryService(NewDefaultRulesEngine(), testConfig(), transfers.fn, opts...)
	return svc, transfers
}

func mustCreateRecipe(t *testing.T, svc *Service, spec RecipeSpec) Recipe {
	t.Helper()
	recipe, _, err := svc.CreateRecipe(context.Background(), ownerAddr, spec)
	if err != nil {
		t.Fatalf("create recipe: %v", err)
	}
	return recipe
}

func mustDeposit(t *testing.T, svc *Service, vessel, label Hash, amount uint64) Vessel {
	t.Helper()
	v, _, err := svc.Deposit(context.Background(), vessel, label, amount)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return v
}

func TestDepositCreditsAndEnumeratesOnce(t *testing.T) {
	svc, _ := newTestService(t)
	vessel := domain.HashOf([]byte("vessel-a"))
	label := domain.HashOf([]byte("label-a"))

	v := mustDeposit(t, svc, vessel, label, 400)
	if v.Balance != 400 || v.Label != label || v.CreatedSeq != 1 {
		t.Fatalf("unexpected vessel after first deposit: %+v", v)
	}
	v = mustDeposit(t, svc, vessel, domain.HashOf([]byte("other")), 100)
	if v.Balance != 500 {
		t.Fatalf("expected balance 500, got %d", v.Balance)
	}
	if v.Label != label {
		t.Fatalf("label must not change on later deposits")
	}
	ids := svc.VesselIDs()
	if len(ids) != 1 || ids[0] != vessel {
		t.Fatalf("vessel must appear exactly once, got %v", ids)
	}
	if svc.Params().Pool != 500 {
		t.Fatalf("pool should track deposits, got %d", svc.Params().Pool)
	}
}

func TestDepositRejectsZeroAmount(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Deposit(context.Background(), domain.HashOf([]byte("v")), Hash{}, 0)
	if domain.ErrCode(err) != domain.CodeZeroAmount {
		t.Fatalf("expected zero_amount, got %v", err)
	}
}

func TestDepositRejectsBalanceOverflow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, math.MaxUint64)

	_, _, err := svc.Deposit(ctx, vessel, Hash{}, 2)
	if domain.ErrCode(err) != domain.CodeAmountOverflow {
		t.Fatalf("expected amount_overflow, got %v", err)
	}
	v, _ := svc.GetVessel(vessel)
	if v.Balance != math.MaxUint64 {
		t.Fatalf("rejected deposit must not touch the balance, got %d", v.Balance)
	}
	if svc.Params().Pool != math.MaxUint64 {
		t.Fatalf("rejected deposit must not touch the pool, got %d", svc.Params().Pool)
	}
	if len(svc.VesselIDs()) != 1 {
		t.Fatalf("enumeration must be unchanged")
	}

	other := domain.HashOf([]byte("other"))
	if _, _, err := svc.Deposit(ctx, other, Hash{}, 1); domain.ErrCode(err) != domain.CodeAmountOverflow {
		t.Fatalf("pool overflow must reject deposits to fresh vessels too, got %v", err)
	}
	if _, ok := svc.GetVessel(other); ok {
		t.Fatalf("rejected deposit must not create the vessel")
	}
}

func TestResolveExtremeInputExactArithmetic(t *testing.T) {
	svc, transfers := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.SetFeeBps(ctx, ownerAddr, 0); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x01}), YieldBps: 9000})
	vessel := domain.HashOf([]byte("vessel"))
	const input = uint64(1) << 61
	mustDeposit(t, svc, vessel, Hash{}, input)

	record, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, input)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// floor(2^61 * 9000 / 10000), computed without 64-bit wrap.
	const wantYield = uint64(2075258708292324556)
	if record.YieldAmount != wantYield || record.FeeAmount != 0 {
		t.Fatalf("unexpected split %+v", record)
	}
	v, _ := svc.GetVessel(vessel)
	if v.Balance != 0 {
		t.Fatalf("expected drained balance, got %d", v.Balance)
	}
	last := transfers.calls[len(transfers.calls)-2]
	if last != (transferCall{to: beneAddr, amount: wantYield}) {
		t.Fatalf("payout must carry the exact yield, got %+v", last)
	}
}

func TestResolveScenarioLowFee(t *testing.T) {
	svc, transfers := newTestService(t)
	ctx := context.Background()
	recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0xAA}), MinInput: 100, YieldBps: 9000})
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, 1000)

	record, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 500)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if record.YieldAmount != 450 || record.FeeAmount != 0 || record.NetAmount() != 450 {
		t.Fatalf("unexpected split %+v", record)
	}
	if record.Seq != 1 {
		t.Fatalf("expected first resolution seq, got %d", record.Seq)
	}
	v, _ := svc.GetVessel(vessel)
	if v.Balance != 500 {
		t.Fatalf("expected balance 500 after debit, got %d", v.Balance)
	}
	stats, ok := svc.GetRecipeStats(recipe.ID)
	if !ok || stats.Resolutions != 1 || stats.InputVolume != 500 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	stored, ok := svc.GetConversion(record.ID)
	if !ok || stored != record {
		t.Fatalf("record not retrievable: %+v vs %+v", stored, record)
	}
	if len(transfers.calls) != 2 {
		t.Fatalf("expected two transfer legs, got %v", transfers.calls)
	}
	if transfers.calls[0] != (transferCall{to: beneAddr, amount: 450}) {
		t.Fatalf("unexpected payout leg %+v", transfers.calls[0])
	}
	if transfers.calls[1] != (transferCall{to: treasuryAddr, amount: 0}) {
		t.Fatalf("unexpected fee leg %+v", transfers.calls[1])
	}
}

func TestResolveScenarioMaxFee(t *testing.T) {
	svc, transfers := newTestService(t)
	ctx := context.Background()
	recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0xAA}), MinInput: 100, YieldBps: 9000})
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, 10000)
	if _, _, err := svc.SetFeeBps(ctx, ownerAddr, 250); err != nil {
		t.Fatalf("set fee: %v", err)
	}

	record, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 10000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if record.YieldAmount != 9000 || record.FeeAmount != 225 || record.NetAmount() != 8775 {
		t.Fatalf("unexpected split %+v", record)
	}
	if record.NetAmount()+record.FeeAmount != record.YieldAmount {
		t.Fatalf("split must reassemble exactly")
	}
	last := transfers.calls[len(transfers.calls)-1]
	if last != (transferCall{to: treasuryAddr, amount: 225}) {
		t.Fatalf("unexpected fee leg %+v", last)
	}
}

func TestResolvePreconditions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x01}), MinInput: 100, YieldBps: 9000})
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, 150)

	cases := []struct {
		name string
		run  func() error
		code Code
	}{
		{"wrong caller", func() error {
			_, _, err := svc.Resolve(ctx, ownerAddr, beneAddr, vessel, recipe.ID, 100)
			return err
		}, domain.CodeNotAuthorized},
		{"zero beneficiary", func() error {
			_, _, err := svc.Resolve(ctx, keeperAddr, Address{}, vessel, recipe.ID, 100)
			return err
		}, domain.CodeZeroAddress},
		{"unknown recipe", func() error {
			_, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, 99, 100)
			return err
		}, domain.CodeRecipeNotFound},
		{"below min input", func() error {
			_, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 99)
			return err
		}, domain.CodeInsufficientInput},
		{"beyond balance", func() error {
			_, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 151)
			return err
		}, domain.CodeInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.ErrCode(tc.run()); got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
			v, _ := svc.GetVessel(vessel)
			if v.Balance != 150 {
				t.Fatalf("failed resolve must not touch balance, got %d", v.Balance)
			}
			if seq := svc.Params().ResolutionSeq; seq != 0 {
				t.Fatalf("failed resolve must not consume a sequence number, got %d", seq)
			}
		})
	}

	if _, _, err := svc.SetRecipeActive(ctx, ownerAddr, recipe.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 100)
	if domain.ErrCode(err) != domain.CodeRecipeInactive {
		t.Fatalf("expected recipe_inactive, got %v", err)
	}
}

func TestResolveBoundaries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x01}), MinInput: 100, YieldBps: 9000})
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, 100)

	record, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 100)
	if err != nil {
		t.Fatalf("resolve at exact min input and exact balance should succeed: %v", err)
	}
	if record.InputAmount != 100 {
		t.Fatalf("unexpected record %+v", record)
	}
	v, _ := svc.GetVessel(vessel)
	if v.Balance != 0 {
		t.Fatalf("expected drained balance, got %d", v.Balance)
	}
}

func TestResolveIdentifiersNeverCollide(t *testing.T) {
	fixedNow := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fixedEntropy := [32]byte{1}
	svc, _ := newTestService(t,
		WithNowFunc(func() time.Time { return fixedNow }),
		WithEntropyFunc(func() [32]byte { return fixedEntropy }),
	)
	ctx := context.Background()
	recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x01}), MinInput: 0, YieldBps: 9000})
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, 1000)

	first, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 100)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 100)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("identical requests at the same instant must still mint distinct ids")
	}
	if second.Seq != first.Seq+1 {
		t.Fatalf("sequence must advance per committed resolution: %d then %d", first.Seq, second.Seq)
	}
}

func TestResolveTransferFailureUnwindsEverything(t *testing.T) {
	for _, leg := range []string{"payout", "fee"} {
		t.Run(leg, func(t *testing.T) {
			svc, transfers := newTestService(t)
			ctx := context.Background()
			recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x01}), MinInput: 0, YieldBps: 9000})
			vessel := domain.HashOf([]byte("vessel"))
			mustDeposit(t, svc, vessel, Hash{}, 1000)
			transfers.fail = func(to Address, _ uint64) error {
				if leg == "payout" && to == beneAddr {
					return errors.New("payout rejected")
				}
				if leg == "fee" && to == treasuryAddr {
					return errors.New("fee rejected")
				}
				return nil
			}

			_, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 500)
			if domain.ErrCode(err) != domain.CodeTransferFailed {
				t.Fatalf("expected transfer_failed, got %v", err)
			}
			v, _ := svc.GetVessel(vessel)
			if v.Balance != 1000 {
				t.Fatalf("debit must be unwound, balance %d", v.Balance)
			}
			if len(svc.ConversionIDs()) != 0 {
				t.Fatalf("record must be unwound")
			}
			params := svc.Params()
			if params.ResolutionSeq != 0 || params.Pool != 1000 {
				t.Fatalf("counters must be unwound, got %+v", params)
			}
			stats, _ := svc.GetRecipeStats(recipe.ID)
			if stats.Resolutions != 0 {
				t.Fatalf("stats must be unwound, got %+v", stats)
			}
		})
	}
}

func TestCreateRecipeBatchAtomicity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	specs := make([]RecipeSpec, domain.MaxRecipeBatch)
	for i := range specs {
		specs[i] = RecipeSpec{Fingerprint: domain.HashOf([]byte{byte(i + 1)}), YieldBps: 9000}
	}
	created, _, err := svc.CreateRecipeBatch(ctx, ownerAddr, specs)
	if err != nil {
		t.Fatalf("full batch: %v", err)
	}
	if len(created) != domain.MaxRecipeBatch {
		t.Fatalf("expected %d recipes, got %d", domain.MaxRecipeBatch, len(created))
	}
	for i, recipe := range created {
		if recipe.ID != uint64(i+1) {
			t.Fatalf("ids must be assigned in input order, got %+v", created)
		}
	}

	over := append(specs, RecipeSpec{Fingerprint: domain.HashOf([]byte{0xFF}), YieldBps: 9000})
	if _, _, err := svc.CreateRecipeBatch(ctx, ownerAddr, over); domain.ErrCode(err) != domain.CodeBatchTooLarge {
		t.Fatalf("expected batch_too_large, got %v", err)
	}

	before := svc.Params().RecipeSeq
	bad := []RecipeSpec{
		{Fingerprint: domain.HashOf([]byte{0x10}), YieldBps: 9000},
		{Fingerprint: Hash{}, YieldBps: 9000},
	}
	if _, _, err := svc.CreateRecipeBatch(ctx, ownerAddr, bad); domain.ErrCode(err) != domain.CodeInvalidFormula {
		t.Fatalf("expected invalid_formula, got %v", err)
	}
	if svc.Params().RecipeSeq != before {
		t.Fatalf("rejected batch must leave the recipe counter unchanged")
	}
	if _, _, err := svc.CreateRecipeBatch(ctx, ownerAddr, nil); domain.ErrCode(err) != domain.CodeEmptyBatch {
		t.Fatalf("expected empty_batch, got %v", err)
	}
}

func TestCreateRecipeBatchChecksCapacityBeforeProcessing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < domain.MaxRecipes-5; i++ {
		mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{byte(i), byte(i >> 8), 1}), YieldBps: 9000})
	}
	specs := make([]RecipeSpec, 6)
	for i := range specs {
		specs[i] = RecipeSpec{Fingerprint: domain.HashOf([]byte{byte(i), 2}), YieldBps: 9000}
	}
	before := svc.Params().RecipeSeq
	if _, _, err := svc.CreateRecipeBatch(ctx, ownerAddr, specs); domain.ErrCode(err) != domain.CodeRegistryFull {
		t.Fatalf("expected registry_full, got %v", err)
	}
	if svc.Params().RecipeSeq != before {
		t.Fatalf("over-capacity batch must not process any entry")
	}
}

func TestPauseScopesMutations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x01}), MinInput: 0, YieldBps: 9000})
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, 1000)

	if _, err := svc.SetPaused(ctx, ownerAddr, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, _, err := svc.Deposit(ctx, vessel, Hash{}, 10); domain.ErrCode(err) != domain.CodePaused {
		t.Fatalf("deposit must fail while paused, got %v", err)
	}
	if _, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 10); domain.ErrCode(err) != domain.CodePaused {
		t.Fatalf("resolve must fail while paused, got %v", err)
	}
	// Admin actions stay available under pause.
	if _, _, err := svc.CreateRecipe(ctx, ownerAddr, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x02}), YieldBps: 9000}); err != nil {
		t.Fatalf("recipe creation must ignore pause: %v", err)
	}
	if _, _, err := svc.SetFeeBps(ctx, ownerAddr, 10); err != nil {
		t.Fatalf("fee change must ignore pause: %v", err)
	}
	if _, err := svc.SetPaused(ctx, ownerAddr, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, _, err := svc.Deposit(ctx, vessel, Hash{}, 10); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

func TestReentrantTransferCallbackIsRejected(t *testing.T) {
	svc, transfers := newTestService(t)
	ctx := context.Background()
	recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x01}), MinInput: 0, YieldBps: 9000})
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, 1000)

	var nestedErrs []error
	transfers.fail = func(to Address, _ uint64) error {
		if to == beneAddr {
			_, _, depErr := svc.Deposit(ctx, vessel, Hash{}, 5)
			nestedErrs = append(nestedErrs, depErr)
			_, _, resErr := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 10)
			nestedErrs = append(nestedErrs, resErr)
		}
		return nil
	}

	record, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 500)
	if err != nil {
		t.Fatalf("outer resolve must succeed: %v", err)
	}
	if len(nestedErrs) != 2 {
		t.Fatalf("expected two nested attempts, got %d", len(nestedErrs))
	}
	for _, nested := range nestedErrs {
		if domain.ErrCode(nested) != domain.CodeReentrantCall {
			t.Fatalf("nested call must be rejected as reentrant, got %v", nested)
		}
	}
	v, _ := svc.GetVessel(vessel)
	if v.Balance != 500 {
		t.Fatalf("outer call state must stay consistent, balance %d", v.Balance)
	}
	if record.InputAmount != 500 {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestReentrantAdminCallbackIsRejected(t *testing.T) {
	svc, transfers := newTestService(t)
	ctx := context.Background()
	recipe := mustCreateRecipe(t, svc, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x01}), MinInput: 0, YieldBps: 9000})
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, 1000)

	var nestedErrs []error
	transfers.fail = func(to Address, _ uint64) error {
		if to == beneAddr {
			_, _, createErr := svc.CreateRecipe(ctx, ownerAddr, RecipeSpec{Fingerprint: domain.HashOf([]byte{0x02}), YieldBps: 9000})
			nestedErrs = append(nestedErrs, createErr)
			_, _, feeErr := svc.SetFeeBps(ctx, ownerAddr, 10)
			nestedErrs = append(nestedErrs, feeErr)
			_, pauseErr := svc.SetPaused(ctx, ownerAddr, true)
			nestedErrs = append(nestedErrs, pauseErr)
		}
		return nil
	}

	if _, _, err := svc.Resolve(ctx, keeperAddr, beneAddr, vessel, recipe.ID, 100); err != nil {
		t.Fatalf("outer resolve must succeed: %v", err)
	}
	if len(nestedErrs) != 3 {
		t.Fatalf("expected three nested attempts, got %d", len(nestedErrs))
	}
	for _, nested := range nestedErrs {
		if domain.ErrCode(nested) != domain.CodeReentrantCall {
			t.Fatalf("nested admin call must be rejected as reentrant, got %v", nested)
		}
	}
	if len(svc.RecipeIDs()) != 1 {
		t.Fatalf("nested recipe creation must not commit")
	}
	params := svc.Params()
	if params.FeeBps != domain.InitialFeeBps || params.Paused {
		t.Fatalf("nested config changes must not commit, got %+v", params)
	}
}

func TestSetFeeBpsValidatesAndReturnsPrevious(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if got := svc.Params().FeeBps; got != domain.InitialFeeBps {
		t.Fatalf("expected initial fee %d, got %d", domain.InitialFeeBps, got)
	}
	prev, _, err := svc.SetFeeBps(ctx, ownerAddr, 100)
	if err != nil || prev != domain.InitialFeeBps {
		t.Fatalf("expected previous %d, got %d err=%v", domain.InitialFeeBps, prev, err)
	}
	if _, _, err := svc.SetFeeBps(ctx, ownerAddr, domain.MaxFeeBps+1); domain.ErrCode(err) != domain.CodeInvalidFeeRatio {
		t.Fatalf("expected invalid_fee_ratio, got %v", err)
	}
	if _, _, err := svc.SetFeeBps(ctx, keeperAddr, 10); domain.ErrCode(err) != domain.CodeNotAuthorized {
		t.Fatalf("expected not_authorized, got %v", err)
	}
}

func TestUpdateVesselLabelBeforeDeposit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	vessel := domain.HashOf([]byte("vessel"))
	early := domain.HashOf([]byte("early"))

	prev, _, err := svc.UpdateVesselLabel(ctx, ownerAddr, vessel, early)
	if err != nil || !prev.IsZero() {
		t.Fatalf("expected zero previous label, got %s err=%v", prev, err)
	}
	if len(svc.VesselIDs()) != 0 {
		t.Fatalf("label-only vessel must not be enumerated")
	}
	depositLabel := domain.HashOf([]byte("deposit"))
	v := mustDeposit(t, svc, vessel, depositLabel, 10)
	if v.Label != depositLabel {
		t.Fatalf("first deposit establishes the label, got %s", v.Label)
	}
	prev, _, err = svc.UpdateVesselLabel(ctx, ownerAddr, vessel, early)
	if err != nil || prev != depositLabel {
		t.Fatalf("expected previous label %s, got %s err=%v", depositLabel, prev, err)
	}
}

func TestWithdrawCrucible(t *testing.T) {
	svc, transfers := newTestService(t)
	ctx := context.Background()
	vessel := domain.HashOf([]byte("vessel"))
	mustDeposit(t, svc, vessel, Hash{}, 1000)

	withdrawn, _, err := svc.WithdrawCrucible(ctx, ownerAddr, 400)
	if err != nil || withdrawn != 400 {
		t.Fatalf("expected withdrawal of 400, got %d err=%v", withdrawn, err)
	}
	if svc.Params().Pool != 600 {
		t.Fatalf("expected pool 600, got %d", svc.Params().Pool)
	}
	last := transfers.calls[len(transfers.calls)-1]
	if last != (transferCall{to: crucibleAddr, amount: 400}) {
		t.Fatalf("unexpected crucible leg %+v", last)
	}

	withdrawn, _, err = svc.WithdrawCrucible(ctx, ownerAddr, 10000)
	if err != nil || withdrawn != 600 {
		t.Fatalf("expected clamped withdrawal of 600, got %d err=%v", withdrawn, err)
	}
	if _, _, err := svc.WithdrawCrucible(ctx, ownerAddr, 1); domain.ErrCode(err) != domain.CodeInsufficientBalance {
		t.Fatalf("expected insufficient_balance on empty pool, got %v", err)
	}
	if _, _, err := svc.WithdrawCrucible(ctx, ownerAddr, 0); domain.ErrCode(err) != domain.CodeZeroAmount {
		t.Fatalf("expected zero_amount, got %v", err)
	}
	if _, _, err := svc.WithdrawCrucible(ctx, keeperAddr, 1); domain.ErrCode(err) != domain.CodeNotAuthorized {
		t.Fatalf("expected not_authorized, got %v", err)
	}
}

func TestAdminSurfaceRequiresOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	spec := RecipeSpec{Fingerprint: domain.HashOf([]byte{0x01}), YieldBps: 9000}
	if _, _, err := svc.CreateRecipe(ctx, keeperAddr, spec); domain.ErrCode(err) != domain.CodeNotAuthorized {
		t.Fatalf("create recipe: %v", err)
	}
	if _, _, err := svc.CreateRecipeBatch(ctx, keeperAddr, []RecipeSpec{spec}); domain.ErrCode(err) != domain.CodeNotAuthorized {
		t.Fatalf("create batch: %v", err)
	}
	if _, _, err := svc.SetRecipeActive(ctx, keeperAddr, 1, false); domain.ErrCode(err) != domain.CodeNotAuthorized {
		t.Fatalf("set active: %v", err)
	}
	if _, err := svc.SetPaused(ctx, keeperAddr, true); domain.ErrCode(err) != domain.CodeNotAuthorized {
		t.Fatalf("set paused: %v", err)
	}
	if _, _, err := svc.UpdateVesselLabel(ctx, keeperAddr, Hash{}, Hash{}); domain.ErrCode(err) != domain.CodeNotAuthorized {
		t.Fatalf("update label: %v", err)
	}
}

func TestSetRecipeActiveUnknownID(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.SetRecipeActive(context.Background(), ownerAddr, 42, true); domain.ErrCode(err) != domain.CodeRecipeNotFound {
		t.Fatalf("expected recipe_not_found, got %v", err)
	}
}
