package fsm

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/goliatone/go-claimbot/core"
)

// Session data keys written by transition functions.
const (
	keyResumeState   = "resume_state"
	keyOTPAttempts   = "otp_attempts"
	keyJourneyDate   = "journey_date"
	keyOrigin        = "origin"
	keyDestination   = "destination"
	keyDepartureTime = "departure_time"
	keyRoutes        = "routes"
	keyJourneyID     = "journey_id"
	keyClaimIDs      = "claim_ids"
)

func stringValue(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	value, _ := data[key].(string)
	return strings.TrimSpace(value)
}

// intValue reads counters whatever numeric type they were stored as.
func intValue(data map[string]any, key string) int {
	if data == nil {
		return 0
	}
	switch value := data[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case json.Number:
		parsed, _ := value.Int64()
		return int(parsed)
	case string:
		parsed, _ := strconv.Atoi(strings.TrimSpace(value))
		return parsed
	default:
		return 0
	}
}

// routesValue reads the candidate routes whether they are still typed or
// came back from the session store as generic JSON.
func routesValue(data map[string]any) []core.Route {
	if data == nil {
		return nil
	}
	switch value := data[keyRoutes].(type) {
	case nil:
		return nil
	case []core.Route:
		return append([]core.Route(nil), value...)
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		var routes []core.Route
		if err := json.Unmarshal(raw, &routes); err != nil {
			return nil
		}
		return routes
	}
}

func stringsValue(data map[string]any, key string) []string {
	if data == nil {
		return nil
	}
	switch value := data[key].(type) {
	case []string:
		return append([]string(nil), value...)
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if text, ok := item.(string); ok {
				out = append(out, text)
			}
		}
		return out
	default:
		return nil
	}
}

func journeyFromData(data map[string]any) core.Journey {
	return core.Journey{
		TravelDate:    stringValue(data, keyJourneyDate),
		Origin:        stringValue(data, keyOrigin),
		Destination:   stringValue(data, keyDestination),
		DepartureTime: stringValue(data, keyDepartureTime),
	}
}
