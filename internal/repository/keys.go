package repository

import (
	"fmt"
	"strings"
)

// Redis key layout. Every key is built here so the expiry listener can parse
// the ones it receives back from keyspace notifications.
const (
	keyPrefix = "gate:"

	// DispatcherGroup is the consumer group reading every waiting log
	DispatcherGroup = "dispatchers"
	// WakeupChannel nudges dispatchers when a slot frees or a user joins
	WakeupChannel = keyPrefix + "wakeup"
	// PushNotifyChannel carries the user id of every push append
	PushNotifyChannel = keyPrefix + "pushnotify"

	activeEventsKey = keyPrefix + "wait:events"
	tokenKeyPrefix  = keyPrefix + "token:"
	holderKeyPrefix = keyPrefix + "holder:"
	seatKeyPrefix   = keyPrefix + "seat:"
	lockKeyPrefix   = keyPrefix + "seatlock:"
)

func waitStreamKey(eventID string) string { return keyPrefix + "wait:" + eventID }
func waitSeqKey(eventID string) string    { return keyPrefix + "wait:seq:" + eventID }
func consumerKey(consumer string) string  { return keyPrefix + "consumer:" + consumer }
func memberKey(eventID, userID string) string {
	return fmt.Sprintf("%swait:member:%s:%s", keyPrefix, eventID, userID)
}
func capacityKey(eventID string) string    { return keyPrefix + "cap:" + eventID }
func eventConfigKey(eventID string) string { return keyPrefix + "event:config:" + eventID }
func tokenKey(userID string) string        { return tokenKeyPrefix + userID }
func holderKey(userID string) string       { return holderKeyPrefix + userID }
func seatKey(eventID string) string        { return seatKeyPrefix + eventID }
func seatLockKey(eventID, seatID string) string {
	return lockKeyPrefix + eventID + ":" + seatID
}
func ticketsKey(eventID string) string { return keyPrefix + "tickets:" + eventID }
func pushKey(userID string) string     { return keyPrefix + "push:" + userID }

// ExpiredKey is a parsed expired key the pipeline reacts to
type ExpiredKey struct {
	Kind    ExpiredKind
	UserID  string
	EventID string
	SeatID  string
}

// ExpiredKind classifies an expired key
type ExpiredKind int

const (
	ExpiredOther ExpiredKind = iota
	ExpiredEntryToken
	ExpiredSeatLock
)

// ParseExpiredKey maps an expired key name back to what it guarded
func ParseExpiredKey(key string) ExpiredKey {
	switch {
	case strings.HasPrefix(key, tokenKeyPrefix):
		return ExpiredKey{Kind: ExpiredEntryToken, UserID: strings.TrimPrefix(key, tokenKeyPrefix)}
	case strings.HasPrefix(key, lockKeyPrefix):
		// event ids never contain ':', seat ids are the remainder
		eventID, seatID, ok := strings.Cut(strings.TrimPrefix(key, lockKeyPrefix), ":")
		if !ok || eventID == "" || seatID == "" {
			return ExpiredKey{Kind: ExpiredOther}
		}
		return ExpiredKey{Kind: ExpiredSeatLock, EventID: eventID, SeatID: seatID}
	default:
		return ExpiredKey{Kind: ExpiredOther}
	}
}
