package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArchiveName(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 3, 999, time.Local)
	assert.Equal(t, "world_nether_2024-03-09T07-05-03.zip", ArchiveName("world_nether", at))
}

func TestParseArchiveName(t *testing.T) {
	tests := []struct {
		name      string
		wantWorld string
		wantTime  time.Time
		wantOK    bool
	}{
		{"world_2024-03-09T07-05-03.zip", "world", time.Date(2024, 3, 9, 7, 5, 3, 0, time.Local), true},
		{"world_the_end_2024-12-31T23-59-59.zip", "world_the_end", time.Date(2024, 12, 31, 23, 59, 59, 0, time.Local), true},
		{"world_2024-03-09T07-05-03.tar", "", time.Time{}, false},
		{"world-2024-03-09T07-05-03.zip", "", time.Time{}, false},
		{"_2024-03-09T07-05-03.zip", "", time.Time{}, false},
		{"world_yesterday.zip", "", time.Time{}, false},
		{"notes.txt", "", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			world, at, ok := ParseArchiveName(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantWorld, world)
			assert.True(t, tt.wantTime.Equal(at), "got %s", at)
		})
	}
}

func TestArchiveNameRoundTrip(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	world, parsed, ok := ParseArchiveName(ArchiveName("skyblock", at))
	assert.True(t, ok)
	assert.Equal(t, "skyblock", world)
	assert.True(t, at.Equal(parsed))
}
