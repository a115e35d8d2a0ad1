package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"fixwork_backend/internal/jobstatus"
	"fixwork_backend/internal/models"
	"fixwork_backend/internal/push"
	"fixwork_backend/internal/repositories"
	"fixwork_backend/internal/scheduler"
	"fixwork_backend/internal/services/dto"

	"gorm.io/gorm"
)

// In-memory doubles used across the service tests. They honour the same
// contracts as the gorm-backed repositories (cap eviction, changed-row
// counts, not-found errors) so the services can be exercised without a
// database.

type memNotificationRepo struct {
	mu         sync.Mutex
	seq        int
	items      map[string][]*models.Notification // newest first
	createErr  error
	findCalls  int
}

func newMemNotificationRepo() *memNotificationRepo {
	return &memNotificationRepo{items: map[string][]*models.Notification{}}
}

func (r *memNotificationRepo) Create(n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	n.ID = fmt.Sprintf("n-%04d", r.seq)
	n.CreatedAt = time.Now()
	list := append([]*models.Notification{n}, r.items[n.UserID]...)
	if len(list) > repositories.MaxNotificationsPerUser {
		list = list[:repositories.MaxNotificationsPerUser]
	}
	r.items[n.UserID] = list
	return nil
}

func (r *memNotificationRepo) FindByID(id string) (*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.items {
		for _, n := range list {
			if n.ID == id {
				return n, nil
			}
		}
	}
	return nil, repositories.ErrNotificationNotFound
}

func (r *memNotificationRepo) FindUserNotifications(userID string, c repositories.NotificationCriteria) ([]models.Notification, int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findCalls++

	var filtered []models.Notification
	var unread int64
	for _, n := range r.items[userID] {
		if !n.IsRead {
			unread++
		}
		if c.Category != "" && n.Category != c.Category {
			continue
		}
		if c.UnreadOnly && n.IsRead {
			continue
		}
		filtered = append(filtered, *n)
	}
	total := int64(len(filtered))
	if c.Offset >= len(filtered) {
		return nil, total, unread, nil
	}
	filtered = filtered[c.Offset:]
	if c.Limit > 0 && len(filtered) > c.Limit {
		filtered = filtered[:c.Limit]
	}
	return filtered, total, unread, nil
}

func (r *memNotificationRepo) MarkRead(userID string, ids []string, readAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	var changed int64
	for _, n := range r.items[userID] {
		if n.IsRead {
			continue
		}
		if len(ids) > 0 && !wanted[n.ID] {
			continue
		}
		at := readAt
		n.IsRead = true
		n.ReadAt = &at
		changed++
	}
	return changed, nil
}

func (r *memNotificationRepo) UnreadCount(userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, n := range r.items[userID] {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *memNotificationRepo) Delete(userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.items[userID]
	for i, n := range list {
		if n.ID == id {
			r.items[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return repositories.ErrNotificationNotFound
}

func (r *memNotificationRepo) DeleteAllForUser(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, userID)
	return nil
}

func (r *memNotificationRepo) CleanOld(olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for userID, list := range r.items {
		var kept []*models.Notification
		for _, n := range list {
			if n.IsRead && n.CreatedAt.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, n)
		}
		r.items[userID] = kept
	}
	return removed, nil
}

func (r *memNotificationRepo) all(userID string) []*models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Notification(nil), r.items[userID]...)
}

func (r *memNotificationRepo) byKind(userID, kind string) []*models.Notification {
	var out []*models.Notification
	for _, n := range r.all(userID) {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
	subs  map[string][]models.PushSubscription
}

func newMemUserRepo(users ...*models.User) *memUserRepo {
	r := &memUserRepo{users: map[string]*models.User{}, subs: map[string][]models.PushSubscription{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) Create(u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *memUserRepo) FindByID(id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return u, nil
}

func (r *memUserRepo) UpdatePreferences(userID string, prefs models.NotificationPreferences) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.Preferences = prefs
	return nil
}

func (r *memUserRepo) AddPushSubscription(sub *models.PushSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.UserID] = append(r.subs[sub.UserID], *sub)
	return nil
}

func (r *memUserRepo) FindPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[userID], nil
}

type memJobRepo struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*models.Job
}

func newMemJobRepo(jobs ...*models.Job) *memJobRepo {
	r := &memJobRepo{jobs: map[string]*models.Job{}}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *memJobRepo) Create(j *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
	return nil
}

func (r *memJobRepo) FindByID(id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return j, nil
}

func (r *memJobRepo) CreateApplication(app *models.JobApplication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[app.JobID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for _, existing := range j.Applications {
		if existing.FixerID == app.FixerID {
			return gorm.ErrDuplicatedKey
		}
	}
	r.seq++
	app.ID = fmt.Sprintf("app-%04d", r.seq)
	if app.Status == "" {
		app.Status = models.ApplicationStatusPending
	}
	j.Applications = append(j.Applications, *app)
	return nil
}

func (r *memJobRepo) ApplyOutcome(job *models.Job, out *jobstatus.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	*stored = *job
	stored.StatusHistory = append(stored.StatusHistory, out.HistoryEntry)
	for i := range stored.Applications {
		app := &stored.Applications[i]
		if app.ID == out.AcceptedApplicationID {
			app.Status = models.ApplicationStatusAccepted
		}
		for _, rejected := range out.RejectedApplicationIDs {
			if app.ID == rejected {
				app.Status = models.ApplicationStatusRejected
			}
		}
	}
	return nil
}

func (r *memJobRepo) FindOpenJobsPastDeadline(now time.Time) ([]models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Job
	for _, j := range r.jobs {
		if j.Status == models.JobStatusOpen && j.Deadline != nil && j.Deadline.Before(now) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (r *memJobRepo) FindJobsDueWithin(now time.Time, window time.Duration) ([]models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Job
	cutoff := now.Add(window)
	for _, j := range r.jobs {
		if j.Status == models.JobStatusInProgress && j.Deadline != nil &&
			j.Deadline.After(now) && j.Deadline.Before(cutoff) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *memJobRepo) FindCompletedAwaitingPayment(olderThan time.Time) ([]models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Job
	for _, j := range r.jobs {
		if j.Status == models.JobStatusCompleted && j.CompletedAt != nil && j.CompletedAt.Before(olderThan) {
			out = append(out, *j)
		}
	}
	return out, nil
}

// memStore is a map-backed cache.Store. TTLs are ignored.
type memStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemStore() *memStore { return &memStore{entries: map[string][]byte{}} }

func (s *memStore) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *memStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = raw
	return nil
}

func (s *memStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *memStore) DelPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.entries, key)
		}
	}
	return nil
}

type stubLimiter struct {
	allow      bool
	retryAfter time.Duration
	err        error
}

func (l *stubLimiter) Allow(ctx context.Context, action, actorID string) (bool, time.Duration, error) {
	return l.allow, l.retryAfter, l.err
}

type publishedEvent struct {
	Channel string
	Event   string
	Data    any
}

// capturePublisher records every publish so tests can assert on fan-out
// counts. Setting err makes every publish fail, which the services must
// swallow.
type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, channel, event string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{Channel: channel, Event: event, Data: data})
	return nil
}

func (p *capturePublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (p *capturePublisher) on(channel, event string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Channel == channel && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (p *capturePublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *capturePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type sentPush struct {
	Endpoint string
	Title    string
	Body     string
}

type capturePushSender struct {
	mu   sync.Mutex
	sent []sentPush
}

func (p *capturePushSender) Send(ctx context.Context, sub models.PushSubscription, msg push.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentPush{Endpoint: sub.Endpoint, Title: msg.Title, Body: msg.Body})
	return nil
}

type scheduledTask struct {
	Payload scheduler.AutoMessagePayload
	Delay   time.Duration
}

type captureScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
}

func (s *captureScheduler) EnqueueAutoMessage(ctx context.Context, payload scheduler.AutoMessagePayload, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduledTask{Payload: payload, Delay: delay})
	return nil
}

func (s *captureScheduler) byTemplate(key string) []scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scheduledTask
	for _, t := range s.tasks {
		if t.Payload.TemplateKey == key {
			out = append(out, t)
		}
	}
	return out
}

// stubChatService records conversation creations; everything else is a
// no-op. JobService only drives CreateJobConversation directly.
type stubChatService struct {
	mu      sync.Mutex
	created []string // jobID
}

func (s *stubChatService) CreateJobConversation(ctx context.Context, jobID, hirerID, fixerID string) (*dto.ConversationResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, jobID)
	return &dto.ConversationResponse{ID: "conv-" + jobID, JobID: &jobID, ParticipantIDs: []string{hirerID, fixerID}}, nil
}

func (s *stubChatService) SendMessage(ctx context.Context, conversationID, senderID, content string, msgType models.MessageType) (*dto.MessageResponse, error) {
	return &dto.MessageResponse{}, nil
}

func (s *stubChatService) SendAutomatedMessage(ctx context.Context, conversationID, templateKey, title, body string) (*dto.MessageResponse, error) {
	return &dto.MessageResponse{}, nil
}

func (s *stubChatService) MarkAsRead(ctx context.Context, conversationID, userID string) error {
	return nil
}

func (s *stubChatService) GetUserConversations(ctx context.Context, userID string, limit int) ([]dto.ConversationSummary, error) {
	return nil, nil
}

func (s *stubChatService) GetMessages(ctx context.Context, conversationID, userID string, limit, offset int) ([]dto.MessageResponse, error) {
	return nil, nil
}

func (s *stubChatService) FindConversationByJob(ctx context.Context, jobID, hirerID, fixerID string) (*models.Conversation, error) {
	return nil, gorm.ErrRecordNotFound
}
