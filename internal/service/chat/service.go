package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/jobchat/internal/model/chat"
)

var (
	ErrJobRequired    = errors.New("job id is required")
	ErrJobNotFound    = errors.New("job not found")
	ErrNotParticipant = errors.New("user is not a participant of this job")
	ErrEmptyContent   = errors.New("message content is empty")
)

// Job pairs the two parties allowed to talk about it.
type Job struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	ProviderID string    `json:"providerId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Participant reports whether userID is one side of the job.
func (j Job) Participant(userID string) bool {
	return userID != "" && (userID == j.CustomerID || userID == j.ProviderID)
}

// Counterpart returns the other side of the conversation for userID.
func (j Job) Counterpart(userID string) string {
	if userID == j.CustomerID {
		return j.ProviderID
	}
	return j.CustomerID
}

// Service keeps jobs and their messages in memory.
type Service struct {
	mu       sync.RWMutex
	jobs     map[string]Job
	messages map[string][]chat.HistoryRecord
	now      func() time.Time
}

// NewService bootstraps an empty store.
func NewService() *Service {
	return &Service{
		jobs:     make(map[string]Job),
		messages: make(map[string][]chat.HistoryRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterJob records the customer and provider of a job. Registering an
// existing job updates its parties and keeps its messages.
func (s *Service) RegisterJob(_ context.Context, jobID, customerID, providerID string) (Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, ErrJobRequired
	}

	job := Job{
		ID:         jobID,
		CustomerID: customerID,
		ProviderID: providerID,
		CreatedAt:  s.now(),
	}

	s.mu.Lock()
	if prev, ok := s.jobs[jobID]; ok {
		job.CreatedAt = prev.CreatedAt
	} else {
		s.messages[jobID] = make([]chat.HistoryRecord, 0, 16)
	}
	s.jobs[jobID] = job
	s.mu.Unlock()

	return job, nil
}

// GetJob retrieves a job by identifier.
func (s *Service) GetJob(_ context.Context, jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

// SaveMessage appends a message from senderID and addresses it to the other
// party of the job.
func (s *Service) SaveMessage(_ context.Context, jobID, senderID, content string) (chat.HistoryRecord, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.HistoryRecord{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return chat.HistoryRecord{}, ErrJobNotFound
	}
	if !job.Participant(senderID) {
		return chat.HistoryRecord{}, ErrNotParticipant
	}

	record := chat.HistoryRecord{
		ID:        chat.ID(uuid.NewString()),
		Job:       chat.ID(jobID),
		Sender:    chat.Sender{ID: chat.ID(senderID)},
		Receiver:  chat.ID(job.Counterpart(senderID)),
		Content:   content,
		CreatedAt: s.now(),
	}
	s.messages[jobID] = append(s.messages[jobID], record)
	return record, nil
}

// LoadTranscript returns the job's messages that userID sent or received, in
// insertion order.
func (s *Service) LoadTranscript(_ context.Context, jobID, userID string) ([]chat.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if !job.Participant(userID) {
		return nil, ErrNotParticipant
	}

	uid := chat.ID(userID)
	out := make([]chat.HistoryRecord, 0, len(s.messages[jobID]))
	for _, rec := range s.messages[jobID] {
		if rec.Sender.ID == uid || rec.Receiver == uid {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MarkRead flags every unread message addressed to userID in the job and
// returns how many changed.
func (s *Service) MarkRead(_ context.Context, jobID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return 0, ErrJobNotFound
	}
	if !job.Participant(userID) {
		return 0, ErrNotParticipant
	}

	uid := chat.ID(userID)
	updated := 0
	records := s.messages[jobID]
	for i := range records {
		if records[i].Receiver == uid && !records[i].IsRead {
			records[i].IsRead = true
			updated++
		}
	}
	return updated, nil
}
