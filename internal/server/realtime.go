package server

import (
	"sync"
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/mobility"
	"go.uber.org/zap"
)

// Feed event types pushed to connected clients.
const (
	EventTripLogged             = "trip-logged"
	EventGardenLevelUp          = "garden-level-up"
	EventChallengeCompleted     = "challenge-completed"
	EventGroupChallengeComplete = "group-challenge-completed"
)

// FeedEvent is one realtime notification for one user.
type FeedEvent struct {
	UserID    uint64                 `json:"-"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

const subscriberBuffer = 16

// FeedDispatcher fans events out to per-user subscribers in process. Slow
// subscribers drop events rather than block the publisher.
type FeedDispatcher struct {
	mutex       sync.RWMutex
	subscribers map[uint64]map[chan FeedEvent]struct{}
	clock       func() time.Time
	logger      *zap.Logger
}

// NewFeedDispatcher constructs a FeedDispatcher.
func NewFeedDispatcher(clock func() time.Time, logger *zap.Logger) *FeedDispatcher {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedDispatcher{
		subscribers: make(map[uint64]map[chan FeedEvent]struct{}),
		clock:       clock,
		logger:      logger,
	}
}

// Subscribe registers a listener for one user's events. The returned cancel
// function must be called when the listener goes away.
func (d *FeedDispatcher) Subscribe(userID uint64) (<-chan FeedEvent, func()) {
	channel := make(chan FeedEvent, subscriberBuffer)

	d.mutex.Lock()
	listeners, ok := d.subscribers[userID]
	if !ok {
		listeners = make(map[chan FeedEvent]struct{})
		d.subscribers[userID] = listeners
	}
	listeners[channel] = struct{}{}
	d.mutex.Unlock()

	cancel := func() {
		d.mutex.Lock()
		if listeners, ok := d.subscribers[userID]; ok {
			delete(listeners, channel)
			if len(listeners) == 0 {
				delete(d.subscribers, userID)
			}
		}
		d.mutex.Unlock()
		close(channel)
	}
	return channel, cancel
}

// Publish delivers an event to every listener of the target user.
func (d *FeedDispatcher) Publish(userID uint64, eventType string, payload map[string]interface{}) {
	event := FeedEvent{
		UserID:    userID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: d.clock().UTC(),
	}

	d.mutex.RLock()
	defer d.mutex.RUnlock()
	for channel := range d.subscribers[userID] {
		select {
		case channel <- event:
		default:
			d.logger.Warn("feed subscriber buffer full; event dropped",
				zap.Uint64("user_id", userID),
				zap.String("type", eventType))
		}
	}
}

// TripLogged implements the mobility publisher hook.
func (d *FeedDispatcher) TripLogged(userID uint64, log *mobility.MobilityLog) {
	d.Publish(userID, EventTripLogged, map[string]interface{}{
		"log_id":      log.ID,
		"mode":        string(log.Mode),
		"distance_km": log.DistanceKM,
		"co2_saved_g": log.CO2SavedG,
		"points":      log.PointsEarned,
	})
}

// GardenLeveledUp implements the garden publisher hook.
func (d *FeedDispatcher) GardenLeveledUp(userID uint64, newLevel int, levelName string) {
	d.Publish(userID, EventGardenLevelUp, map[string]interface{}{
		"level":      newLevel,
		"level_name": levelName,
	})
}

// ChallengeCompleted implements the personal challenge events hook.
func (d *FeedDispatcher) ChallengeCompleted(userID, challengeID uint64, title string) {
	d.Publish(userID, EventChallengeCompleted, map[string]interface{}{
		"challenge_id": challengeID,
		"title":        title,
	})
}

// GroupChallengeCompleted implements the group challenge events hook,
// notifying every participant.
func (d *FeedDispatcher) GroupChallengeCompleted(groupID, challengeID uint64, title string, participantIDs []uint64) {
	for _, userID := range participantIDs {
		d.Publish(userID, EventGroupChallengeComplete, map[string]interface{}{
			"group_id":     groupID,
			"challenge_id": challengeID,
			"title":        title,
		})
	}
}
