package profile

import (
	"testing"
	"time"

	"github.com/drewcsillag/notecove/pkg/layout"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIdentityStable tests that instance/profile ids survive reopen
func TestIdentityStable(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	instanceID, err := db.InstanceID()
	require.NoError(t, err)
	profileID, err := db.ProfileID()
	require.NoError(t, err)
	assert.NotEmpty(t, instanceID)
	assert.NotEqual(t, instanceID, profileID)
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	again, err := db.InstanceID()
	require.NoError(t, err)
	assert.Equal(t, instanceID, again)
}

// TestSettingsRoundTrip tests the settings bucket
func TestSettingsRoundTrip(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	missing, err := db.GetSetting("polling")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, db.PutSetting("polling", []byte("pollRatePerMinute: 60")))
	got, err := db.GetSetting("polling")
	require.NoError(t, err)
	assert.Equal(t, "pollRatePerMinute: 60", string(got))
}

// TestPollStatsAccumulate tests per-SD counter accumulation
func TestPollStatsAccumulate(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AddPollStats("sd-1", 10, 2))
	require.NoError(t, db.AddPollStats("sd-1", 5, 1))
	stats, err := db.GetPollStats("sd-1")
	require.NoError(t, err)
	assert.Equal(t, PollStats{Polls: 15, Hits: 3}, stats)

	other, err := db.GetPollStats("sd-2")
	require.NoError(t, err)
	assert.Equal(t, PollStats{}, other)
}

// TestPresenceRoundTrip tests publishing and reading presence records
func TestPresenceRoundTrip(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.SetProfileName("Work"))

	sd := layout.New(t.TempDir())
	require.NoError(t, db.WritePresence(sd, "1.2.3"))

	presences, err := ReadPresences(sd)
	require.NoError(t, err)
	require.Len(t, presences, 1)
	p := presences[0]

	profileID, _ := db.ProfileID()
	instanceID, _ := db.InstanceID()
	assert.Equal(t, profileID, p.ProfileID)
	assert.Equal(t, instanceID, p.InstanceID)
	assert.Equal(t, "Work", p.ProfileName)
	assert.Equal(t, "1.2.3", p.AppVersion)
	assert.False(t, IsStale(p, types.NowMillis()))
	assert.True(t, IsStale(p, types.NowMillis()+8*24*time.Hour.Milliseconds()))
}

// TestSDType tests the marker read/write/check cycle
func TestSDType(t *testing.T) {
	sd := layout.New(t.TempDir())

	// Missing marker defaults to prod.
	got, err := ReadSDType(sd)
	require.NoError(t, err)
	assert.Equal(t, types.SDTypeProd, got)

	require.NoError(t, WriteSDType(sd, types.SDTypeDev))
	got, err = ReadSDType(sd)
	require.NoError(t, err)
	assert.Equal(t, types.SDTypeDev, got)

	assert.NoError(t, CheckSDType(sd, types.SDTypeDev))
	assert.Error(t, CheckSDType(sd, types.SDTypeProd))

	assert.Error(t, WriteSDType(sd, "staging"))
}
