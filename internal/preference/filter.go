package preference

import (
	"time"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
)

// ShouldSend reports whether a recipient's preferences allow an email for
// the given event. Absent preferences mean default opt-in.
func ShouldSend(prefs *domain.UserNotificationPreferences, event domain.EventType) bool {
	return shouldSendAt(prefs, event, time.Now())
}

func shouldSendAt(prefs *domain.UserNotificationPreferences, event domain.EventType, now time.Time) bool {
	if prefs == nil {
		return true
	}

	if !prefs.EmailNotificationsEnabled {
		return false
	}

	if prefs.DoNotDisturb {
		// An unset expiry means do-not-disturb holds indefinitely.
		if prefs.DoNotDisturbUntil == nil || prefs.DoNotDisturbUntil.After(now) {
			return false
		}
	}

	if entry, ok := prefs.Events[event]; ok {
		if !entry.Enabled || entry.Frequency == domain.FrequencyNever {
			return false
		}
	}

	return true
}
