package ledger

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aistack/plugin-registry/pkg/pluginpkg"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db, nil)
	require.NoError(t, store.AutoMigrate())
	return store
}

func providerDesc(id, version, provider string) *pluginpkg.PluginDescriptor {
	return &pluginpkg.PluginDescriptor{
		ID:      id,
		Version: version,
		Capabilities: []pluginpkg.Capability{
			{Kind: pluginpkg.CapabilityModelProvider, ProviderCode: provider},
		},
	}
}

func toolDesc(id, version, tool string) *pluginpkg.PluginDescriptor {
	return &pluginpkg.PluginDescriptor{
		ID:      id,
		Version: version,
		Capabilities: []pluginpkg.Capability{
			{Kind: pluginpkg.CapabilityTool, ToolName: tool},
		},
	}
}

func TestActivateCreatesRowAndProjections(t *testing.T) {
	store := setupTestStore(t)
	desc := &pluginpkg.PluginDescriptor{
		ID:      "combo",
		Version: "1.0.0",
		Capabilities: []pluginpkg.Capability{
			{Kind: pluginpkg.CapabilityModelProvider, ProviderCode: "openai"},
			{Kind: pluginpkg.CapabilityTool, ToolName: "web_search"},
		},
	}

	row, created, err := store.Activate("t1", desc, RuntimeLocal)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusEnabled, row.Status)
	assert.Equal(t, "combo:1.0.0", row.PluginUniqueIdentifier)

	providers, err := store.ModelProvidersForTenant("t1")
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "openai", providers[0].Provider)

	tools, err := store.ToolsForTenant("t1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "web_search", tools[0].ToolName)
	assert.True(t, tools[0].Enabled)
}

func TestActivateIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	desc := providerDesc("p1", "1.0.0", "openai")

	first, created, err := store.Activate("t1", desc, RuntimeLocal)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := store.Activate("t1", desc, RuntimeLocal)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	providers, err := store.ModelProvidersForTenant("t1")
	require.NoError(t, err)
	assert.Len(t, providers, 1)
}

func TestActivateIsTenantScoped(t *testing.T) {
	store := setupTestStore(t)
	desc := providerDesc("p1", "1.0.0", "openai")

	_, created, err := store.Activate("t1", desc, RuntimeLocal)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = store.Activate("t2", desc, RuntimeLocal)
	require.NoError(t, err)
	assert.True(t, created)

	count, err := store.ReferenceCount("p1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestActivateDuplicateProviderFails(t *testing.T) {
	store := setupTestStore(t)

	_, _, err := store.Activate("t1", providerDesc("p1", "1.0.0", "openai"), RuntimeLocal)
	require.NoError(t, err)

	// Second plugin exposing the same provider code for the same tenant
	// violates (tenant, provider) uniqueness; nothing is left behind.
	_, _, err = store.Activate("t1", providerDesc("p2", "1.0.0", "openai"), RuntimeLocal)
	require.Error(t, err)

	row, err := store.Get("t1", "p2")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestActivateLostInsertRaceReturnsExistingRow(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		TranslateError:       true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	store := NewStore(db, nil)

	now := time.Now()
	cols := []string{"id", "tenant_id", "plugin_id", "plugin_unique_identifier", "runtime_type", "status", "meta", "created_at", "updated_at"}

	// The look-up inside the transaction sees no row, the insert loses to
	// a concurrent activate on another replica, and the re-read resolves
	// to the winner's row.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `plugin_installations`").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectExec("INSERT INTO `plugin_installations`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT \\* FROM `plugin_installations`").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("winner-id", "t1", "p1", "p1:1.0.0", RuntimeLocal, string(StatusEnabled), "", now, now))

	row, created, err := store.Activate("t1", providerDesc("p1", "1.0.0", "openai"), RuntimeLocal)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner-id", row.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateRemovesProjectionsAtomically(t *testing.T) {
	store := setupTestStore(t)
	_, _, err := store.Activate("t1", toolDesc("p1", "1.0.0", "calc"), RuntimeLocal)
	require.NoError(t, err)

	existed, err := store.Deactivate("t1", "p1")
	require.NoError(t, err)
	assert.True(t, existed)

	row, err := store.Get("t1", "p1")
	require.NoError(t, err)
	assert.Nil(t, row)

	tools, err := store.ToolsForTenant("t1")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestDeactivateAbsentRowReturnsFalse(t *testing.T) {
	store := setupTestStore(t)
	existed, err := store.Deactivate("t1", "ghost")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestDeactivateLeavesOtherTenants(t *testing.T) {
	store := setupTestStore(t)
	desc := toolDesc("p1", "1.0.0", "calc")
	_, _, err := store.Activate("t1", desc, RuntimeLocal)
	require.NoError(t, err)
	_, _, err = store.Activate("t2", desc, RuntimeLocal)
	require.NoError(t, err)

	_, err = store.Deactivate("t1", "p1")
	require.NoError(t, err)

	row, err := store.Get("t2", "p1")
	require.NoError(t, err)
	require.NotNil(t, row)

	tools, err := store.ToolsForTenant("t2")
	require.NoError(t, err)
	assert.Len(t, tools, 1)
}

func TestSetEnabledToggles(t *testing.T) {
	store := setupTestStore(t)
	_, _, err := store.Activate("t1", toolDesc("p1", "1.0.0", "calc"), RuntimeLocal)
	require.NoError(t, err)

	found, err := store.SetEnabled("t1", "p1", false)
	require.NoError(t, err)
	assert.True(t, found)

	row, err := store.Get("t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, row.Status)

	tools, err := store.ToolsForTenant("t1")
	require.NoError(t, err)
	assert.False(t, tools[0].Enabled)

	found, err = store.SetEnabled("t1", "p1", true)
	require.NoError(t, err)
	assert.True(t, found)

	row, err = store.Get("t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusEnabled, row.Status)
}

func TestSetEnabledAbsentRow(t *testing.T) {
	store := setupTestStore(t)
	found, err := store.SetEnabled("t1", "ghost", true)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListForTenantFiltersAndPaginates(t *testing.T) {
	store := setupTestStore(t)

	// Stagger creation times so ordering is deterministic.
	for i, id := range []string{"alpha", "beta", "gamma"} {
		desc := &pluginpkg.PluginDescriptor{ID: id, Version: "1.0.0"}
		row, _, err := store.Activate("t1", desc, RuntimeLocal)
		require.NoError(t, err)
		created := time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, store.db.Model(&Installation{}).
			Where("id = ?", row.ID).
			Update("created_at", created).Error)
	}
	_, err := store.SetEnabled("t1", "beta", false)
	require.NoError(t, err)

	// Newest first.
	rows, total, err := store.ListForTenant("t1", Filter{}, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, rows, 3)
	assert.Equal(t, "gamma", rows[0].PluginID)
	assert.Equal(t, "alpha", rows[2].PluginID)

	// Status filter.
	rows, total, err = store.ListForTenant("t1", Filter{Status: StatusDisabled}, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "beta", rows[0].PluginID)

	// Name filter.
	rows, _, err = store.ListForTenant("t1", Filter{NameQuery: "amm"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "gamma", rows[0].PluginID)

	// Pagination.
	rows, total, err = store.ListForTenant("t1", Filter{}, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "beta", rows[0].PluginID)
}

func TestListForTenantTieBreakByPluginID(t *testing.T) {
	store := setupTestStore(t)
	shared := time.Now().Truncate(time.Second)
	for _, id := range []string{"zeta", "alpha"} {
		row, _, err := store.Activate("t1", &pluginpkg.PluginDescriptor{ID: id, Version: "1.0.0"}, RuntimeLocal)
		require.NoError(t, err)
		require.NoError(t, store.db.Model(&Installation{}).
			Where("id = ?", row.ID).
			Update("created_at", shared).Error)
	}

	rows, _, err := store.ListForTenant("t1", Filter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0].PluginID)
	assert.Equal(t, "zeta", rows[1].PluginID)
}

func TestActivePinsExcludeDisabledRows(t *testing.T) {
	store := setupTestStore(t)
	desc := providerDesc("p1", "1.2.0", "openai")
	_, _, err := store.Activate("t1", desc, RuntimeLocal)
	require.NoError(t, err)
	_, _, err = store.Activate("t2", desc, RuntimeLocal)
	require.NoError(t, err)
	_, err = store.SetEnabled("t2", "p1", false)
	require.NoError(t, err)

	pins, err := store.ActivePins("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1:1.2.0"}, pins)
}

func TestActivePinsIncludeInstalledRows(t *testing.T) {
	store := setupTestStore(t)

	// Capability-less plugins rest at INSTALLED but still pin their
	// version for dependents.
	row, _, err := store.Activate("t1", &pluginpkg.PluginDescriptor{ID: "lib", Version: "1.4.0"}, RuntimeLocal)
	require.NoError(t, err)
	require.Equal(t, StatusInstalled, row.Status)

	pins, err := store.ActivePins("lib")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib:1.4.0"}, pins)
}
