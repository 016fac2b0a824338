package skibbadb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSeedRunsOnceOnFirstCreation exercises CollectionOptions.Seed end to
// end: the seed function should fire on a brand-new collection and never
// again on a later process that reopens the same file at the same version.
func TestSeedRunsOnceOnFirstCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.db")
	ctx := context.Background()

	var seedCalls int
	seed := func(uc *UpgradeContext) error {
		seedCalls++
		_, err := uc.Exec(ctx, "INSERT INTO countries (_id, doc) VALUES (?, ?)", "us", `{"id":"us","name":"United States"}`)
		return err
	}

	db, err := CreateDB(Config{Path: path, Driver: DriverBlocking})
	require.NoError(t, err)
	countries, err := db.Collection("countries", acceptAll, CollectionOptions{Seed: seed})
	require.NoError(t, err)
	require.NoError(t, countries.WaitForInitialization(ctx))
	require.Equal(t, 1, seedCalls)

	n, err := countries.Count(ctx, nil, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.NoError(t, db.Close())

	db2, err := CreateDB(Config{Path: path, Driver: DriverBlocking})
	require.NoError(t, err)
	defer db2.Close()
	countries2, err := db2.Collection("countries", acceptAll, CollectionOptions{Seed: seed})
	require.NoError(t, err)
	require.NoError(t, countries2.WaitForInitialization(ctx))
	require.Equal(t, 1, seedCalls, "seed must not re-run on a collection already at its declared version")
}

// TestVersionUpgradeRunsPendingStepOnce reopens a file-backed database at a
// higher declared Version and checks the Upgrades entry for the newly
// reachable version runs exactly once, in the same transaction as the rest
// of that migration (the UpgradeContext.Exec call and the rest of the plan
// either all commit or all roll back together).
func TestVersionUpgradeRunsPendingStepOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upgrade.db")
	ctx := context.Background()

	db, err := CreateDB(Config{Path: path, Driver: DriverBlocking})
	require.NoError(t, err)
	widgets, err := db.Collection("widgets", acceptAll, CollectionOptions{Version: 1})
	require.NoError(t, err)
	require.NoError(t, widgets.WaitForInitialization(ctx))
	_, err = widgets.Insert(ctx, map[string]any{"name": "sprocket"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var upgradeCalls int
	upgradeToV2 := UpgradeFn(func(ctx any) error {
		upgradeCalls++
		uc := ctx.(*UpgradeContext)
		_, err := uc.Exec(context.Background(), "ALTER TABLE widgets ADD COLUMN legacy_note TEXT DEFAULT ''")
		return err
	})

	db2, err := CreateDB(Config{Path: path, Driver: DriverBlocking})
	require.NoError(t, err)
	defer db2.Close()
	widgets2, err := db2.Collection("widgets", acceptAll, CollectionOptions{
		Version:  2,
		Upgrades: map[int]any{2: upgradeToV2},
	})
	require.NoError(t, err)
	require.NoError(t, widgets2.WaitForInitialization(ctx))
	require.Equal(t, 1, upgradeCalls)

	n, err := widgets2.Count(ctx, nil, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "rows inserted before the upgrade must survive it")
}

// TestConditionalUpgradeSkipsWhenConditionIsFalse exercises the
// ConditionalUpgrade wrapper: Migrate must not run when Condition reports
// false, even though the version advances past it.
func TestConditionalUpgradeSkipsWhenConditionIsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conditional.db")
	ctx := context.Background()

	db, err := CreateDB(Config{Path: path, Driver: DriverBlocking})
	require.NoError(t, err)
	_, err = db.Collection("gadgets", acceptAll, CollectionOptions{Version: 1})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var ran bool
	cond := ConditionalUpgrade{
		Condition: func() bool { return false },
		Migrate: func(ctx any) error {
			ran = true
			return nil
		},
	}

	db2, err := CreateDB(Config{Path: path, Driver: DriverBlocking})
	require.NoError(t, err)
	defer db2.Close()
	gadgets, err := db2.Collection("gadgets", acceptAll, CollectionOptions{
		Version:  2,
		Upgrades: map[int]any{2: cond},
	})
	require.NoError(t, err)
	require.NoError(t, gadgets.WaitForInitialization(ctx))
	require.False(t, ran, "Migrate must not run when Condition is false")
}

// TestLegacyConstraintsAreLoweredToConstrainedFields exercises the §9
// deprecated declaration form: a legacy unique "string" constraint should
// behave exactly like an equivalent ConstrainedFieldDef{Type: TypeText,
// Unique: true}.
func TestLegacyConstraintsAreLoweredToConstrainedFields(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	ctx := context.Background()

	accounts, err := db.Collection("accounts", acceptAll, CollectionOptions{
		LegacyConstraints: map[string]LegacyConstraint{
			"handle": {Type: "string", Unique: true},
		},
	})
	require.NoError(t, err)
	require.NoError(t, accounts.WaitForInitialization(ctx))

	_, err = accounts.Insert(ctx, map[string]any{"handle": "ada"})
	require.NoError(t, err)

	_, err = accounts.Insert(ctx, map[string]any{"handle": "ada"})
	require.Error(t, err)
	_, ok := AsUniqueConstraintError(err)
	require.True(t, ok)
}

// TestCompositeUniqueRejectsDuplicatePair checks that a CompositeUniques
// declaration enforces uniqueness across the combination of fields rather
// than each field individually.
func TestCompositeUniqueRejectsDuplicatePair(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	ctx := context.Background()

	memberships, err := db.Collection("memberships", acceptAll, CollectionOptions{
		ConstrainedFields: map[string]ConstrainedFieldDef{
			"orgId":  {Type: TypeText},
			"userId": {Type: TypeText},
		},
		CompositeUniques: [][]string{{"orgId", "userId"}},
	})
	require.NoError(t, err)
	require.NoError(t, memberships.WaitForInitialization(ctx))

	_, err = memberships.Insert(ctx, map[string]any{"orgId": "acme", "userId": "bob"})
	require.NoError(t, err)

	// Same org, different user: allowed.
	_, err = memberships.Insert(ctx, map[string]any{"orgId": "acme", "userId": "carol"})
	require.NoError(t, err)

	// Same pair again: rejected.
	_, err = memberships.Insert(ctx, map[string]any{"orgId": "acme", "userId": "bob"})
	require.Error(t, err)
	_, ok := AsUniqueConstraintError(err)
	require.True(t, ok)
}
