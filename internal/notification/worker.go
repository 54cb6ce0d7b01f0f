package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// DefaultNotify lists the event types pushed to staff devices.
var DefaultNotify = []string{
	event.ServiceCompleted,
	event.MachineBroken,
	event.MachineRepaired,
	event.DriftMachineReleased,
	event.DriftDuplicateClaim,
}

// Payload is the JSON body delivered to subscribed devices.
type Payload struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	Type         string `json:"type"`
	BranchID     int64  `json:"branchId"`
	MachineID    *int64 `json:"machineId,omitempty"`
	AssignmentID *int64 `json:"assignmentId,omitempty"`
}

// WorkerPool manages a pool of workers pushing branch events to staff devices.
type WorkerPool struct {
	size    int
	jobs    chan event.Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	notify  map[string]bool
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	wp := &WorkerPool{
		size:    size,
		jobs:    make(chan event.Event, size*16), // Buffered channel
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		notify:  make(map[string]bool, len(DefaultNotify)),
	}
	for _, t := range DefaultNotify {
		wp.notify[t] = true
	}
	return wp
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.sendNotificationsForEvent(ctx, ev)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Emit implements event.Sink. Only notable events are queued, and a full
// queue drops the event rather than blocking the scheduler.
func (wp *WorkerPool) Emit(_ context.Context, ev event.Event) {
	if !wp.notify[ev.Type] {
		return
	}
	select {
	case wp.jobs <- ev:
	default:
		log.Printf("Notification queue full, dropping %s for branch %d", ev.Type, ev.BranchID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan event.Event {
	return wp.jobs
}

// sendNotificationsForEvent fetches the subscriptions of the event's branch and notifies them.
func (wp *WorkerPool) sendNotificationsForEvent(ctx context.Context, ev event.Event) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_branch_mapping sbm ON sbm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sbm.branch_id = ?", ev.BranchID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for branch %d: %v", ev.BranchID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d notifications for %s in branch %d", len(subscriptions), ev.Type, ev.BranchID)

	var branch model.Branch
	branchLabel := fmt.Sprintf("Branch %d", ev.BranchID)
	if err := wp.db.WithContext(ctx).
		Select("name").
		First(&branch, ev.BranchID).Error; err != nil {
		log.Printf("Error fetching branch %d: %v", ev.BranchID, err)
	} else if branch.Name != "" {
		branchLabel = branch.Name
	}

	payload, err := json.Marshal(Payload{
		Title:        branchLabel,
		Body:         describe(ev),
		Type:         ev.Type,
		BranchID:     ev.BranchID,
		MachineID:    ev.MachineID,
		AssignmentID: ev.AssignmentID,
	})
	if err != nil {
		log.Printf("Error encoding notification for %s: %v", ev.Type, err)
		return
	}
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func describe(ev event.Event) string {
	switch ev.Type {
	case event.ServiceCompleted:
		if name, ok := ev.Data["service"].(string); ok && name != "" {
			return name + " finished"
		}
		return "A service finished"
	case event.MachineBroken:
		return fmt.Sprintf("Machine %s was marked broken", idOrDash(ev.MachineID))
	case event.MachineRepaired:
		return fmt.Sprintf("Machine %s is back in service", idOrDash(ev.MachineID))
	case event.DriftMachineReleased:
		return fmt.Sprintf("Machine %s was freed by reconciliation", idOrDash(ev.MachineID))
	case event.DriftDuplicateClaim:
		return fmt.Sprintf("A duplicate claim on machine %s was cancelled", idOrDash(ev.MachineID))
	}
	return ev.Type
}

func idOrDash(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
