package contactor

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSendTime(t *testing.T) {
	tests := []struct {
		value  string
		hour   int
		minute int
		valid  bool
	}{
		{"10:00", 10, 0, true},
		{"00:00", 0, 0, true},
		{"23:59", 23, 59, true},
		{" 07:05 ", 7, 5, true},
		{"7:05", 0, 0, false},
		{"9:5", 0, 0, false},
		{"+9:05", 0, 0, false},
		{"09:+5", 0, 0, false},
		{"009:05", 0, 0, false},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"1200", 0, 0, false},
		{"ab:cd", 0, 0, false},
		{"", 0, 0, false},
	}

	for _, tt := range tests {
		hour, minute, err := ParseSendTime(tt.value)
		if !tt.valid {
			assert.Error(t, err, tt.value)
			continue
		}

		if assert.NoError(t, err, tt.value) {
			assert.Equal(t, tt.hour, hour, tt.value)
			assert.Equal(t, tt.minute, minute, tt.value)
		}
	}
}

func TestCalculateSendTimesRollsOverToTheNextDay(t *testing.T) {
	base := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	receivers := []Receiver{{Id: "r1", IsValid: true, Timezone: "UTC"}}

	groups := CalculateSendTimes(receivers, base, 10, 0)

	require.Len(t, groups, 1)
	assert.True(t, groups[0].SendTime.Equal(time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)))
}

func TestCalculateSendTimesGroupsEveryValidReceiver(t *testing.T) {
	base := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	receivers := []Receiver{
		{Id: "tokyo", IsValid: true, Timezone: "Asia/Tokyo"},
		{Id: "utc-1", IsValid: true, Timezone: "UTC"},
		{Id: "invalid", IsValid: false, Timezone: "UTC"},
		{Id: "utc-2", IsValid: true, Timezone: "UTC"},
	}

	groups := CalculateSendTimes(receivers, base, 10, 0)

	require.Len(t, groups, 2)

	assert.Equal(t, "UTC", groups[0].Timezone)
	assert.Equal(t, []string{"utc-1", "utc-2"}, groups[0].ReceiverIds)
	assert.True(t, groups[0].SendTime.Equal(time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)))

	// 17:00 in Tokyo at base, so 10:00 is tomorrow there.
	assert.Equal(t, "Asia/Tokyo", groups[1].Timezone)
	assert.Equal(t, []string{"tokyo"}, groups[1].ReceiverIds)
	assert.True(t, groups[1].SendTime.Equal(time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC)))

	earliest, ok := EarliestSendTime(groups)
	assert.True(t, ok)
	assert.True(t, earliest.Equal(groups[0].SendTime))
}

func TestCalculateSendTimesUnknownTimezoneFallsBackToUTC(t *testing.T) {
	base := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	receivers := []Receiver{{Id: "r1", IsValid: true, Timezone: "Mars/Olympus_Mons"}}

	groups := CalculateSendTimes(receivers, base, 10, 0)

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"r1"}, groups[0].ReceiverIds)
	assert.True(t, groups[0].SendTime.Equal(time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)))
}

func TestCalculateSendTimesExactMatchIsNotPostponed(t *testing.T) {
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	receivers := []Receiver{{Id: "r1", IsValid: true, Timezone: "UTC"}}

	groups := CalculateSendTimes(receivers, base, 10, 0)

	require.Len(t, groups, 1)
	assert.True(t, groups[0].SendTime.Equal(base))
}

func TestEarliestSendTimeWithoutGroups(t *testing.T) {
	_, ok := EarliestSendTime(nil)
	assert.False(t, ok)
}

func TestIsTimeToSend(t *testing.T) {
	// 10:30 in New York.
	now := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

	assert.True(t, IsTimeToSend("America/New_York", "10:00", now))
	assert.True(t, IsTimeToSend("America/New_York", "10:30", now))
	assert.False(t, IsTimeToSend("America/New_York", "10:31", now))

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	assert.True(t, IsTimeToSend("America/New_York", "10:30", now.In(tokyo)))
	assert.False(t, IsTimeToSend("America/New_York", "10:31", now.In(tokyo)))
}

func TestIsTimeToSendRejectsBadInput(t *testing.T) {
	now := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

	assert.False(t, IsTimeToSend("Nowhere/Special", "00:00", now))
	assert.False(t, IsTimeToSend("UTC", "noon", now))
	assert.False(t, IsTimeToSend("", "00:00", now))
	assert.False(t, IsTimeToSend("Local", "00:00", now))
}

func TestReceiverDueAnchorsOnJobCreation(t *testing.T) {
	job := Job{
		SendTime:  "09:00",
		CreatedAt: time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC),
	}

	utc := Receiver{Id: "a", Timezone: "UTC"}
	tokyo := Receiver{Id: "b", Timezone: "Asia/Tokyo"}

	at := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	assert.True(t, receiverDue(job, utc, at))
	assert.False(t, receiverDue(job, tokyo, at))

	// 09:00 in Tokyo the following day.
	assert.True(t, receiverDue(job, tokyo, time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)))
	assert.True(t, receiverDue(Job{}, tokyo, at))
}
