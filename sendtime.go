package contactor

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TimezoneGroup is the set of receivers sharing a timezone and its send instant.
type TimezoneGroup struct {
	Timezone    string    `json:"timezone"`
	SendTime    time.Time `json:"sendTime"`
	ReceiverIds []string  `json:"receiverIds"`
}

var sendTimePattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// ParseSendTime parses a 24h "HH:mm" wall-clock time.
func ParseSendTime(value string) (hour, minute int, err error) {
	trimmed := strings.TrimSpace(value)
	if !sendTimePattern.MatchString(trimmed) {
		return 0, 0, errors.Errorf("invalid send time %q, HH:mm expected", value)
	}
	parts := strings.Split(trimmed, ":")

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errors.Errorf("invalid hour in send time %q", value)
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.Errorf("invalid minute in send time %q", value)
	}

	return hour, minute, nil
}

// nextOccurrence returns the first hour:minute in timezone that is not before base.
// Unknown timezones fall back to the following day in UTC.
func nextOccurrence(timezone string, base time.Time, hour, minute int) (time.Time, bool) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		b := base.UTC()
		return time.Date(b.Year(), b.Month(), b.Day()+1, hour, minute, 0, 0, time.UTC), false
	}

	local := base.In(loc)

	at := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if at.Before(base) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}

	return at, true
}

// CalculateSendTimes groups the valid receivers by timezone and computes when
// hour:minute next occurs in each, sorted by that instant.
func CalculateSendTimes(receivers []Receiver, base time.Time, hour, minute int) []TimezoneGroup {
	index := map[string]int{}
	groups := []TimezoneGroup{}

	for _, r := range receivers {
		if !r.IsValid {
			continue
		}

		i, ok := index[r.Timezone]
		if !ok {
			at, known := nextOccurrence(r.Timezone, base, hour, minute)
			if !known {
				logrus.
					WithField("timezone", r.Timezone).
					Warn("unknown timezone, scheduling in UTC on the following day")
			}

			i = len(groups)
			index[r.Timezone] = i
			groups = append(groups, TimezoneGroup{Timezone: r.Timezone, SendTime: at})
		}

		groups[i].ReceiverIds = append(groups[i].ReceiverIds, r.Id)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].SendTime.Before(groups[j].SendTime)
	})

	return groups
}

// EarliestSendTime returns the first group instant; false when there are no groups.
func EarliestSendTime(groups []TimezoneGroup) (time.Time, bool) {
	if len(groups) == 0 {
		return time.Time{}, false
	}

	earliest := groups[0].SendTime
	for _, g := range groups[1:] {
		if g.SendTime.Before(earliest) {
			earliest = g.SendTime
		}
	}

	return earliest, true
}

// loadZone loads an IANA timezone. Unlike time.LoadLocation it refuses the
// empty name and "Local", whose meaning depends on the host.
func loadZone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, errors.Errorf("timezone %q is not an IANA name", name)
	}

	return time.LoadLocation(name)
}

// IsTimeToSend reports whether the wall clock in timezone has reached sendTime
// today. Only the minute of day is compared; the date is ignored.
func IsTimeToSend(timezone, sendTime string, now time.Time) bool {
	hour, minute, err := ParseSendTime(sendTime)
	if err != nil {
		logrus.WithError(err).Warn("cannot evaluate send time")
		return false
	}

	loc, err := loadZone(timezone)
	if err != nil {
		logrus.
			WithField("timezone", timezone).
			WithError(err).
			Warn("cannot evaluate send time for unknown timezone")
		return false
	}

	local := now.In(loc)

	return local.Hour()*60+local.Minute() >= hour*60+minute
}

// receiverDue reports whether a receiver's local send time, anchored at the
// job's creation, has arrived. Jobs without a send time are always due.
func receiverDue(job Job, r Receiver, now time.Time) bool {
	if job.SendTime == "" {
		return true
	}

	hour, minute, err := ParseSendTime(job.SendTime)
	if err != nil {
		return true
	}

	at, _ := nextOccurrence(r.Timezone, job.CreatedAt, hour, minute)

	return !now.Before(at)
}
