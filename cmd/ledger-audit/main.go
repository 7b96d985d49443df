// Command ledger-audit validates an exported ledger snapshot: registry and
// counter limits, per-record conversion arithmetic, and cross-bucket
// referential consistency.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cruciblecore/internal/infra/persistence/memory"
	"cruciblecore/pkg/domain"
)

var exitFunc = os.Exit

// main runs the command-line interface using the program arguments and exits
// the process with the status code returned by cli.
func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger-audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var snapshotPath string
	fs.StringVar(&snapshotPath, "snapshot", "ledger-snapshot.json", "path to exported ledger snapshot json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	report, err := run(snapshotPath)
	if err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "Ledger audit failed: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	if _, writeErr := fmt.Fprintf(stdout, "Ledger audit passed: %d recipes, %d vessels, %d conversions.\n",
		report.Recipes, report.Vessels, report.Conversions); writeErr != nil {
		return 1
	}
	return 0
}

// validatePath ensures the snapshot path stays within the working tree and is
// not an absolute or path-traversing reference.
func validatePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths not allowed: %s", p)
	}
	clean := filepath.Clean(p)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", p)
	}
	return clean, nil
}

type auditReport struct {
	Recipes     int
	Vessels     int
	Conversions int
}

// run loads the snapshot at snapshotPath and audits it, returning bucket
// counts on success.
func run(snapshotPath string) (report auditReport, err error) {
	safePath, vErr := validatePath(snapshotPath)
	if vErr != nil {
		return auditReport{}, vErr
	}
	data, err := os.ReadFile(safePath) // #nosec G304: path validated by validatePath
	if err != nil {
		return auditReport{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot memory.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return auditReport{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if err := auditSnapshot(snapshot); err != nil {
		return auditReport{}, err
	}
	return auditReport{
		Recipes:     len(snapshot.Recipes.Recipes),
		Vessels:     len(snapshot.Vessels.Vessels),
		Conversions: len(snapshot.Conversions.Records),
	}, nil
}

func auditSnapshot(snapshot memory.Snapshot) error {
	if err := auditParams(snapshot.Params); err != nil {
		return err
	}
	if err := auditRecipes(snapshot.Recipes, snapshot.Params); err != nil {
		return err
	}
	if err := auditVessels(snapshot.Vessels); err != nil {
		return err
	}
	return auditConversions(snapshot.Conversions, snapshot.Recipes, snapshot.Params)
}

func auditParams(params domain.LedgerParams) error {
	if params.FeeBps > domain.MaxFeeBps {
		return fmt.Errorf("params: fee rate %d bps exceeds ceiling %d", params.FeeBps, domain.MaxFeeBps)
	}
	if params.RecipeSeq > domain.MaxRecipes {
		return fmt.Errorf("params: recipe counter %d exceeds registry ceiling %d", params.RecipeSeq, domain.MaxRecipes)
	}
	return nil
}

func auditRecipes(bucket memory.RecipeBucket, params domain.LedgerParams) error {
	if len(bucket.Order) != len(bucket.Recipes) {
		return fmt.Errorf("recipes: order lists %d ids, map holds %d", len(bucket.Order), len(bucket.Recipes))
	}
	if uint64(len(bucket.Recipes)) != params.RecipeSeq {
		return fmt.Errorf("recipes: %d entries but counter is %d", len(bucket.Recipes), params.RecipeSeq)
	}
	var prev uint64
	for i, id := range bucket.Order {
		recipe, ok := bucket.Recipes[id]
		if !ok {
			return fmt.Errorf("recipes[%d]: id %d listed in order but missing from map", i, id)
		}
		if recipe.ID != id {
			return fmt.Errorf("recipes[%d]: entry id %d stored under key %d", i, recipe.ID, id)
		}
		if id <= prev {
			return fmt.Errorf("recipes[%d]: id %d out of creation order after %d", i, id, prev)
		}
		prev = id
		if id > params.RecipeSeq {
			return fmt.Errorf("recipes[%d]: id %d beyond counter %d", i, id, params.RecipeSeq)
		}
		if recipe.Fingerprint.IsZero() {
			return fmt.Errorf("recipes[%d]: zero fingerprint", i)
		}
		if recipe.YieldBps < domain.MinYieldBps || recipe.YieldBps > domain.MaxYieldBps {
			return fmt.Errorf("recipes[%d]: yield ratio %d outside [%d,%d]", i, recipe.YieldBps, domain.MinYieldBps, domain.MaxYieldBps)
		}
	}
	for id := range bucket.Stats {
		if _, ok := bucket.Recipes[id]; !ok {
			return fmt.Errorf("recipes: stats reference unknown recipe %d", id)
		}
	}
	return nil
}

func auditVessels(bucket memory.VesselBucket) error {
	if len(bucket.Order) != len(bucket.Vessels) {
		return fmt.Errorf("vessels: order lists %d ids, map holds %d", len(bucket.Order), len(bucket.Vessels))
	}
	seen := make(map[domain.Hash]struct{}, len(bucket.Order))
	for i, id := range bucket.Order {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("vessels[%d]: id %s enumerated twice", i, id)
		}
		seen[id] = struct{}{}
		vessel, ok := bucket.Vessels[id]
		if !ok {
			return fmt.Errorf("vessels[%d]: id %s listed in order but missing from map", i, id)
		}
		if vessel.ID != id {
			return fmt.Errorf("vessels[%d]: entry id %s stored under key %s", i, vessel.ID, id)
		}
	}
	return nil
}

func auditConversions(bucket memory.ConversionBucket, recipes memory.RecipeBucket, params domain.LedgerParams) error {
	if len(bucket.Order) != len(bucket.Records) {
		return fmt.Errorf("conversions: order lists %d ids, map holds %d", len(bucket.Order), len(bucket.Records))
	}
	if uint64(len(bucket.Records)) > params.ResolutionSeq {
		return fmt.Errorf("conversions: %d records but counter is %d", len(bucket.Records), params.ResolutionSeq)
	}
	var prevSeq uint64
	for i, id := range bucket.Order {
		record, ok := bucket.Records[id]
		if !ok {
			return fmt.Errorf("conversions[%d]: id %s listed in order but missing from map", i, id)
		}
		if record.ID != id {
			return fmt.Errorf("conversions[%d]: entry id %s stored under key %s", i, record.ID, id)
		}
		if record.Seq <= prevSeq {
			return fmt.Errorf("conversions[%d]: seq %d out of resolution order after %d", i, record.Seq, prevSeq)
		}
		prevSeq = record.Seq
		if record.Seq > params.ResolutionSeq {
			return fmt.Errorf("conversions[%d]: seq %d beyond counter %d", i, record.Seq, params.ResolutionSeq)
		}
		if record.Beneficiary.IsZero() {
			return fmt.Errorf("conversions[%d]: zero beneficiary", i)
		}
		recipe, ok := recipes.Recipes[record.RecipeID]
		if !ok {
			return fmt.Errorf("conversions[%d]: unknown recipe %d", i, record.RecipeID)
		}
		if record.InputAmount < recipe.MinInput {
			return fmt.Errorf("conversions[%d]: input %d below recipe minimum %d", i, record.InputAmount, recipe.MinInput)
		}
		if want := domain.ComputeYield(record.InputAmount, recipe.YieldBps); record.YieldAmount != want {
			return fmt.Errorf("conversions[%d]: yield %d does not match %d for input %d at %d bps", i, record.YieldAmount, want, record.InputAmount, recipe.YieldBps)
		}
		if record.FeeAmount > record.YieldAmount {
			return fmt.Errorf("conversions[%d]: fee %d exceeds yield %d", i, record.FeeAmount, record.YieldAmount)
		}
	}
	return nil
}
