package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fixwork_backend/internal/channels"
	"fixwork_backend/internal/jobstatus"
	"fixwork_backend/internal/logger"
	"fixwork_backend/internal/models"
	"fixwork_backend/internal/moderation"
	"fixwork_backend/internal/repositories"
	repoChat "fixwork_backend/internal/repositories/chat"
	"fixwork_backend/pkg/apperrors"
)

func init() {
	logger.Init("test")
}

// --- in-memory doubles -------------------------------------------------

type memConversationRepo struct {
	mu       sync.Mutex
	seq      int
	convs    map[string]*models.Conversation
	messages *memMessageRepo
}

func newMemConversationRepo(messages *memMessageRepo) *memConversationRepo {
	return &memConversationRepo{convs: map[string]*models.Conversation{}, messages: messages}
}

func (r *memConversationRepo) FindByJobAndPair(jobID, pairKey string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.convs {
		if c.JobID != nil && *c.JobID == jobID && c.ParticipantKey == pairKey {
			return r.snapshot(c), nil
		}
	}
	return nil, repoChat.ErrConversationNotFound
}

func (r *memConversationRepo) CreateWithSystemMessage(conv *models.Conversation, participants []models.ConversationParticipant, msg *models.Message, receipts []models.MessageReadReceipt) error {
	r.mu.Lock()
	for _, c := range r.convs {
		if c.JobID != nil && conv.JobID != nil && *c.JobID == *conv.JobID && c.ParticipantKey == conv.ParticipantKey {
			r.mu.Unlock()
			return gorm.ErrDuplicatedKey
		}
	}
	r.seq++
	conv.ID = fmt.Sprintf("conv-%04d", r.seq)
	for i := range participants {
		participants[i].ConversationID = conv.ID
	}
	stored := *conv
	stored.Participants = participants
	r.convs[conv.ID] = &stored
	r.mu.Unlock()

	msg.ConversationID = conv.ID
	if err := r.messages.Append(msg, receipts); err != nil {
		return err
	}
	r.mu.Lock()
	conv.TotalMessages = r.convs[conv.ID].TotalMessages
	r.mu.Unlock()
	return nil
}

func (r *memConversationRepo) FindByID(id string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, repoChat.ErrConversationNotFound
	}
	return r.snapshot(c), nil
}

func (r *memConversationRepo) IsParticipant(conversationID, userID string) (bool, error) {
	c, err := r.FindByID(conversationID)
	if err != nil {
		return false, err
	}
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memConversationRepo) FindUserConversations(userID string, limit int) ([]models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Conversation
	for _, c := range r.convs {
		for _, p := range c.Participants {
			if p.UserID == userID {
				out = append(out, *r.snapshot(c))
				break
			}
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LastActivityAt.After(out[k].LastActivityAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memConversationRepo) snapshot(c *models.Conversation) *models.Conversation {
	copied := *c
	copied.Participants = append([]models.ConversationParticipant(nil), c.Participants...)
	return &copied
}

// bump mirrors the activity-column update Append performs in SQL.
func (r *memConversationRepo) bump(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.convs[conversationID]; ok {
		c.TotalMessages++
		c.LastActivityAt = time.Now()
	}
}

type memMessageRepo struct {
	mu    sync.Mutex
	seq   int
	convs *memConversationRepo
	msgs  map[string][]*models.Message // conversationID -> append order
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{msgs: map[string][]*models.Message{}}
}

func (r *memMessageRepo) Append(msg *models.Message, receipts []models.MessageReadReceipt) error {
	r.mu.Lock()
	r.seq++
	msg.ID = fmt.Sprintf("msg-%04d", r.seq)
	msg.CreatedAt = time.Now()
	for i := range receipts {
		receipts[i].MessageID = msg.ID
	}
	stored := *msg
	stored.ReadReceipts = append([]models.MessageReadReceipt(nil), receipts...)
	r.msgs[msg.ConversationID] = append(r.msgs[msg.ConversationID], &stored)
	r.mu.Unlock()

	if r.convs != nil {
		r.convs.bump(msg.ConversationID)
	}
	return nil
}

func (r *memMessageRepo) FindByID(id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.msgs {
		for _, m := range list {
			if m.ID == id {
				return m, nil
			}
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memMessageRepo) FindConversationMessages(conversationID string, limit, offset int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.msgs[conversationID]
	if offset >= len(list) {
		return nil, nil
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]models.Message, 0, len(list))
	for _, m := range list {
		out = append(out, *m)
	}
	return out, nil
}

func (r *memMessageRepo) LastMessage(conversationID string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.msgs[conversationID]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (r *memMessageRepo) MarkConversationRead(conversationID, userID string, readAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for _, m := range r.msgs[conversationID] {
		if m.SenderID != nil && *m.SenderID == userID {
			continue
		}
		if m.IsReadBy(userID) {
			continue
		}
		m.ReadReceipts = append(m.ReadReceipts, models.MessageReadReceipt{
			MessageID: m.ID, UserID: userID, ReadAt: readAt,
		})
		changed++
	}
	return changed, nil
}

func (r *memMessageRepo) UnreadCount(conversationID, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, m := range r.msgs[conversationID] {
		if m.SenderID != nil && *m.SenderID == userID {
			continue
		}
		if !m.IsReadBy(userID) {
			count++
		}
	}
	return count, nil
}

type memUserRepo struct {
	users map[string]*models.User
}

func (r *memUserRepo) Create(u *models.User) error { r.users[u.ID] = u; return nil }

func (r *memUserRepo) FindByID(id string) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return u, nil
}

func (r *memUserRepo) UpdatePreferences(string, models.NotificationPreferences) error { return nil }
func (r *memUserRepo) AddPushSubscription(*models.PushSubscription) error             { return nil }
func (r *memUserRepo) FindPushSubscriptions(string) ([]models.PushSubscription, error) {
	return nil, nil
}

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
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

type stubLimiter struct {
	allow      bool
	retryAfter time.Duration
}

func (l *stubLimiter) Allow(context.Context, string, string) (bool, time.Duration, error) {
	return l.allow, l.retryAfter, nil
}

type publishedEvent struct {
	Channel string
	Event   string
}

type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *capturePublisher) Publish(ctx context.Context, channel, event string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Channel: channel, Event: event})
	return nil
}

func (p *capturePublisher) on(channel, event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Channel == channel && e.Event == event {
			n++
		}
	}
	return n
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

type memJobRepo struct {
	jobs map[string]*models.Job
}

func (r *memJobRepo) Create(j *models.Job) error { r.jobs[j.ID] = j; return nil }

func (r *memJobRepo) FindByID(id string) (*models.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return j, nil
}

func (r *memJobRepo) CreateApplication(*models.JobApplication) error       { return nil }
func (r *memJobRepo) ApplyOutcome(*models.Job, *jobstatus.Outcome) error   { return nil }
func (r *memJobRepo) FindOpenJobsPastDeadline(time.Time) ([]models.Job, error) { return nil, nil }
func (r *memJobRepo) FindJobsDueWithin(time.Time, time.Duration) ([]models.Job, error) {
	return nil, nil
}
func (r *memJobRepo) FindCompletedAwaitingPayment(time.Time) ([]models.Job, error) {
	return nil, nil
}

// --- fixture -----------------------------------------------------------

type chatFixture struct {
	convs     *memConversationRepo
	msgs      *memMessageRepo
	users     *memUserRepo
	jobs      *memJobRepo
	store     *memStore
	limiter   *stubLimiter
	publisher *capturePublisher
	service   ChatService
}

func newChatFixture(validator moderation.Validator) *chatFixture {
	msgs := newMemMessageRepo()
	convs := newMemConversationRepo(msgs)
	msgs.convs = convs

	hirer := &models.User{Email: "ann@example.com", Name: "Ann", Phone: "+44 7700 900001", Role: models.UserRoleHirer}
	hirer.ID = "hirer-1"
	fixer := &models.User{Email: "bob@example.com", Name: "Bob", Phone: "+44 7700 900002", Role: models.UserRoleFixer}
	fixer.ID = "fixer-1"

	job := &models.Job{
		Title:       "Fix the boiler",
		Description: "Boiler leaks from the valve.",
		Location:    "Leeds",
		Budget:      120,
		Status:      models.JobStatusInProgress,
		CreatedBy:   hirer.ID,
	}
	job.ID = "job-1"

	f := &chatFixture{
		convs:     convs,
		msgs:      msgs,
		users:     &memUserRepo{users: map[string]*models.User{hirer.ID: hirer, fixer.ID: fixer}},
		jobs:      &memJobRepo{jobs: map[string]*models.Job{job.ID: job}},
		store:     newMemStore(),
		limiter:   &stubLimiter{allow: true},
		publisher: &capturePublisher{},
	}
	f.service = NewChatService(f.convs, f.msgs, f.users, f.jobs, f.store, f.limiter, f.publisher, validator)
	return f
}

func (f *chatFixture) openConversation(t *testing.T) string {
	t.Helper()
	conv, err := f.service.CreateJobConversation(context.Background(), "job-1", "hirer-1", "fixer-1")
	require.NoError(t, err)
	f.publisher.reset()
	return conv.ID
}

// --- tests -------------------------------------------------------------

func TestCreateJobConversationIdempotent(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})

	first, err := f.service.CreateJobConversation(context.Background(), "job-1", "hirer-1", "fixer-1")
	require.NoError(t, err)

	// order of the pair must not matter
	second, err := f.service.CreateJobConversation(context.Background(), "job-1", "fixer-1", "hirer-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	msgs, err := f.service.GetMessages(context.Background(), first.ID, "hirer-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	opening := msgs[0]
	assert.Equal(t, models.MessageTypeSystem, opening.MessageType)
	assert.Nil(t, opening.SenderID)
	assert.Contains(t, opening.Content, "Fix the boiler")
	assert.Contains(t, opening.Content, "ann@example.com")
	assert.Contains(t, opening.Content, "+44 7700 900002")

	// the opening message is pre-read by both participants
	for _, userID := range []string{"hirer-1", "fixer-1"} {
		unread, err := f.msgs.UnreadCount(first.ID, userID)
		require.NoError(t, err)
		assert.Zero(t, unread, "user %s", userID)
	}
}

func TestCreateJobConversationBroadcastsToBoth(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})

	_, err := f.service.CreateJobConversation(context.Background(), "job-1", "hirer-1", "fixer-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.publisher.on(channels.UserNotifications("hirer-1"), channels.EventConversationCreated))
	assert.Equal(t, 1, f.publisher.on(channels.UserNotifications("fixer-1"), channels.EventConversationCreated))
}

func TestCreateJobConversationRaceReturnsWinner(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := f.service.CreateJobConversation(context.Background(), "job-1", "hirer-1", "fixer-1")
			if err == nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.convs.convs, 1)
}

func TestSendMessageMarksSenderAsRead(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})
	convID := f.openConversation(t)

	msg, err := f.service.SendMessage(context.Background(), convID, "hirer-1", "Can you come Tuesday?", "")
	require.NoError(t, err)

	_, senderHasRead := msg.ReadBy["hirer-1"]
	assert.True(t, senderHasRead)
	_, recipientHasRead := msg.ReadBy["fixer-1"]
	assert.False(t, recipientHasRead)

	unread, err := f.msgs.UnreadCount(convID, "fixer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	// full payload on the conversation channel, condensed ping to the
	// other participant only
	convChannel := channels.Conversation("hirer-1", "fixer-1")
	assert.Equal(t, 1, f.publisher.on(convChannel, channels.EventMessageSent))
	assert.Equal(t, 1, f.publisher.on(channels.UserNotifications("fixer-1"), channels.EventMessageNotification))
	assert.Zero(t, f.publisher.on(channels.UserNotifications("hirer-1"), channels.EventMessageNotification))
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})
	convID := f.openConversation(t)

	_, err := f.service.SendMessage(context.Background(), convID, "hirer-1", "   \n\t ", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidOperation))

	_, err = f.service.SendMessage(context.Background(), convID, "stranger-9", "hello", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.service.SendMessage(context.Background(), "missing-conv", "hirer-1", "hello", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	assert.Zero(t, f.publisher.total())
}

func TestSendMessageModeration(t *testing.T) {
	f := newChatFixture(moderation.NewRuleValidator([]string{"cash only"}, false))
	convID := f.openConversation(t)

	_, err := f.service.SendMessage(context.Background(), convID, "hirer-1", "cash only, no invoice", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeContentRejected))

	msgs, err := f.msgs.FindConversationMessages(convID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1) // only the opening system message
	assert.Zero(t, f.publisher.total())
}

func TestSendMessageRateLimited(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})
	convID := f.openConversation(t)
	f.limiter.allow = false
	f.limiter.retryAfter = 30 * time.Second

	_, err := f.service.SendMessage(context.Background(), convID, "hirer-1", "hello", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeRateLimited))
}

func TestAutomatedMessageStaysUnread(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})
	convID := f.openConversation(t)

	msg, err := f.service.SendAutomatedMessage(context.Background(), convID, "work_started", "", "Work has started.")
	require.NoError(t, err)
	assert.Nil(t, msg.SenderID)
	assert.Equal(t, models.MessageTypeSystem, msg.MessageType)

	// unlike the opening message, the automated one counts as unread for
	// both participants
	for _, userID := range []string{"hirer-1", "fixer-1"} {
		unread, err := f.msgs.UnreadCount(convID, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), unread, "user %s", userID)
	}

	// both participants get the condensed notification
	assert.Equal(t, 1, f.publisher.on(channels.UserNotifications("hirer-1"), channels.EventMessageNotification))
	assert.Equal(t, 1, f.publisher.on(channels.UserNotifications("fixer-1"), channels.EventMessageNotification))
}

func TestMarkAsReadNoopDoesNotBroadcast(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})
	convID := f.openConversation(t)

	// everything already read: no write, no broadcast
	require.NoError(t, f.service.MarkAsRead(context.Background(), convID, "fixer-1"))
	assert.Zero(t, f.publisher.total())

	_, err := f.service.SendMessage(context.Background(), convID, "hirer-1", "Can you come Tuesday?", "")
	require.NoError(t, err)
	f.publisher.reset()

	require.NoError(t, f.service.MarkAsRead(context.Background(), convID, "fixer-1"))
	convChannel := channels.Conversation("hirer-1", "fixer-1")
	assert.Equal(t, 1, f.publisher.on(convChannel, channels.EventMessagesRead))

	f.publisher.reset()
	require.NoError(t, f.service.MarkAsRead(context.Background(), convID, "fixer-1"))
	assert.Zero(t, f.publisher.total())
}

func TestMarkAsReadRequiresParticipant(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})
	convID := f.openConversation(t)

	err := f.service.MarkAsRead(context.Background(), convID, "stranger-9")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestConcurrentSendsAllPersist(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})
	convID := f.openConversation(t)

	const perSender = 5
	var wg sync.WaitGroup
	for _, sender := range []string{"hirer-1", "fixer-1"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := f.service.SendMessage(context.Background(), convID, sender, fmt.Sprintf("%s message %d", sender, i), "")
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	msgs, err := f.msgs.FindConversationMessages(convID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2*perSender+1) // +1 opening message

	conv, err := f.convs.FindByID(convID)
	require.NoError(t, err)
	assert.Equal(t, int64(2*perSender+1), conv.TotalMessages)
}

func TestConversationSummaries(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})
	convID := f.openConversation(t)

	long := strings.Repeat("boiler ", 20) // well past the preview cap
	_, err := f.service.SendMessage(context.Background(), convID, "hirer-1", long, "")
	require.NoError(t, err)

	summaries, err := f.service.GetUserConversations(context.Background(), "fixer-1", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, convID, s.ConversationID)
	assert.Equal(t, int64(1), s.UnreadCount)
	assert.True(t, strings.HasSuffix(s.LastPreview, "…"))
	assert.LessOrEqual(t, len([]rune(s.LastPreview)), previewMaxLen+1)
	assert.ElementsMatch(t, []string{"hirer-1", "fixer-1"}, s.ParticipantIDs)
}

func TestConversationSummariesCached(t *testing.T) {
	f := newChatFixture(moderation.AllowAll{})
	convID := f.openConversation(t)

	first, err := f.service.GetUserConversations(context.Background(), "fixer-1", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Zero(t, first[0].UnreadCount)

	// a new message invalidates the cached summary for both sides
	_, err = f.service.SendMessage(context.Background(), convID, "hirer-1", "Can you come Tuesday?", "")
	require.NoError(t, err)

	refreshed, err := f.service.GetUserConversations(context.Background(), "fixer-1", 10)
	require.NoError(t, err)
	require.Len(t, refreshed, 1)
	assert.Equal(t, int64(1), refreshed[0].UnreadCount)
}
