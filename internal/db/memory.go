package db

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"PulseCampaign/internal/models"
)

// MemStore keeps campaigns, recipients and events in process memory. It
// honours the same contract as Store and backs local runs without a
// database as well as package tests.
type MemStore struct {
	mu sync.RWMutex

	nextID     int64
	campaigns  map[int64]*models.Campaign
	recipients map[int64]*models.Recipient
	events     []models.TrackingEvent
	now        func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		campaigns:  make(map[int64]*models.Campaign),
		recipients: make(map[int64]*models.Recipient),
		now:        time.Now,
	}
}

func (m *MemStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemStore) Migrate(context.Context) error { return nil }

func (m *MemStore) Close() {}

func (m *MemStore) CreateCampaign(
	_ context.Context,
	c *models.Campaign,
	recipients []models.Recipient,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	c.Normalize()
	c.ID = m.id()
	c.CreatedAt = m.now()
	stored := *c
	m.campaigns[c.ID] = &stored

	for i := range recipients {
		r := &recipients[i]
		r.ID = m.id()
		r.CampaignID = c.ID
		r.Status = models.RecipientPending
		cp := *r
		m.recipients[r.ID] = &cp
	}
	return nil
}

// AddRecipient attaches a recipient to an existing campaign.
func (m *MemStore) AddRecipient(_ context.Context, r *models.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns[r.CampaignID]; !ok {
		return ErrNotFound
	}
	r.ID = m.id()
	if r.Status == "" {
		r.Status = models.RecipientPending
	}
	cp := *r
	m.recipients[r.ID] = &cp
	return nil
}

func (m *MemStore) GetCampaign(_ context.Context, id int64) (*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemStore) ListCampaigns(context.Context) ([]models.CampaignSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.CampaignSummary, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		out = append(out, models.CampaignSummary{Campaign: *c, Stats: m.statsLocked(c.ID)})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemStore) CampaignStats(_ context.Context, id int64) (models.CampaignStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked(id), nil
}

func (m *MemStore) statsLocked(campaignID int64) models.CampaignStats {
	var st models.CampaignStats
	for _, r := range m.recipients {
		if r.CampaignID != campaignID {
			continue
		}
		st.Total++
		switch r.Status {
		case models.RecipientSent:
			st.Sent++
		case models.RecipientFailed:
			st.Failed++
		case models.RecipientPending:
			st.Pending++
		}
		if m.hasEventLocked(r.ID, models.EventOpen) {
			st.Opened++
		}
		if m.hasEventLocked(r.ID, models.EventReplied) {
			st.Replied++
		}
	}
	return st
}

func (m *MemStore) hasEventLocked(recipientID int64, typ models.EventType) bool {
	for _, e := range m.events {
		if e.RecipientID == recipientID && e.Type == typ {
			return true
		}
	}
	return false
}

func (m *MemStore) DeleteCampaign(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns[id]; !ok {
		return ErrNotFound
	}
	delete(m.campaigns, id)

	removed := make(map[int64]bool)
	for rid, r := range m.recipients {
		if r.CampaignID == id {
			removed[rid] = true
			delete(m.recipients, rid)
		}
	}
	m.events = slices.DeleteFunc(m.events, func(e models.TrackingEvent) bool {
		return removed[e.RecipientID]
	})
	return nil
}

func (m *MemStore) UpdateCampaignStatus(_ context.Context, id int64, status models.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *MemStore) TransitionCampaignStatus(
	_ context.Context,
	id int64,
	from []models.CampaignStatus,
	to models.CampaignStatus,
) (bool, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[id]
	if !ok || !slices.Contains(from, c.Status) {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (m *MemStore) DueCampaigns(_ context.Context, now time.Time) ([]models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Campaign
	for _, c := range m.campaigns {
		if c.Status == models.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(*out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(*out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemStore) recipientsWhere(keep func(*models.Recipient) bool) []models.Recipient {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Recipient
	for _, r := range m.recipients {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemStore) ListRecipients(_ context.Context, campaignID int64) ([]models.Recipient, error) {
	return m.recipientsWhere(func(r *models.Recipient) bool {
		return r.CampaignID == campaignID
	}), nil
}

func (m *MemStore) PendingRecipients(_ context.Context, campaignID int64) ([]models.Recipient, error) {
	return m.recipientsWhere(func(r *models.Recipient) bool {
		return r.CampaignID == campaignID && r.Status == models.RecipientPending
	}), nil
}

func (m *MemStore) RecipientsWithDOB(context.Context) ([]models.Recipient, error) {
	return m.recipientsWhere(func(r *models.Recipient) bool {
		return r.DOB != nil
	}), nil
}

func (m *MemStore) MarkRecipientSent(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.recipients[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = models.RecipientSent
	r.SentAt = &at
	return nil
}

func (m *MemStore) MarkRecipientFailed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.recipients[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = models.RecipientFailed
	return nil
}

func (m *MemStore) InsertEvent(_ context.Context, recipientID int64, typ models.EventType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recipients[recipientID]; !ok {
		return ErrNotFound
	}
	m.events = append(m.events, models.TrackingEvent{
		ID:          m.id(),
		RecipientID: recipientID,
		Type:        typ,
		Timestamp:   at,
	})
	return nil
}

func (m *MemStore) RecordEventOnce(_ context.Context, recipientID int64, typ models.EventType, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recipients[recipientID]; !ok {
		return false, nil
	}
	if m.hasEventLocked(recipientID, typ) {
		return false, nil
	}
	m.events = append(m.events, models.TrackingEvent{
		ID:          m.id(),
		RecipientID: recipientID,
		Type:        typ,
		Timestamp:   at,
	})
	return true, nil
}

func (m *MemStore) EventSentToEmail(
	_ context.Context,
	email string,
	typ models.EventType,
	from, to time.Time,
) (bool, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.events {
		if e.Type != typ || e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		if r, ok := m.recipients[e.RecipientID]; ok && r.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) ReportRows(_ context.Context, campaignID int64) ([]models.ReportRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ReportRow
	for _, r := range m.recipients {
		c, ok := m.campaigns[r.CampaignID]
		if !ok || (campaignID != 0 && c.ID != campaignID) {
			continue
		}
		row := models.ReportRow{
			CampaignID:   c.ID,
			CampaignName: c.Name,
			Subject:      c.Subject,
			RecipientID:  r.ID,
			Email:        r.Email,
			Status:       r.Status,
			SentAt:       r.SentAt,
			CreatedAt:    c.CreatedAt,
		}
		for _, e := range m.events {
			if e.RecipientID != r.ID {
				continue
			}
			switch e.Type {
			case models.EventOpen:
				row.Opens++
			case models.EventReplied:
				row.Replies++
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CampaignID != out[j].CampaignID {
			return out[i].CampaignID < out[j].CampaignID
		}
		return out[i].RecipientID < out[j].RecipientID
	})
	return out, nil
}

// Events returns a copy of the event log.
func (m *MemStore) Events() []models.TrackingEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// Recipient returns a copy of one recipient row.
func (m *MemStore) Recipient(id int64) (models.Recipient, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.recipients[id]
	if !ok {
		return models.Recipient{}, false
	}
	return *r, true
}
