package pg

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatdispatch/internal/domain"
	"chatdispatch/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

type scanner interface {
	Scan(dest ...any) error
}

// senders

const senderColumns = `id, name, phone_number, status,
	quota_per_minute, quota_per_hour, quota_per_day,
	sent_this_minute, sent_this_hour, sent_this_day,
	last_reset_minute, last_reset_hour, last_reset_day,
	health_score, failure_count, success_count, consecutive_failures,
	last_failure, last_used, last_connected, is_active, created_at, updated_at`

func scanSender(row scanner) (domain.Sender, error) {
	var v domain.Sender
	err := row.Scan(&v.ID, &v.Name, &v.PhoneNumber, &v.Status,
		&v.QuotaPerMinute, &v.QuotaPerHour, &v.QuotaPerDay,
		&v.SentThisMinute, &v.SentThisHour, &v.SentThisDay,
		&v.LastResetMinute, &v.LastResetHour, &v.LastResetDay,
		&v.HealthScore, &v.FailureCount, &v.SuccessCount, &v.ConsecutiveFailures,
		&v.LastFailure, &v.LastUsed, &v.LastConnected, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func collectSenders(rows pgx.Rows, err error) ([]domain.Sender, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Sender
	for rows.Next() {
		v, err := scanSender(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) InsertSender(ctx context.Context, in domain.Sender) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO senders (`+senderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`, in.ID, in.Name, in.PhoneNumber, in.Status,
		in.QuotaPerMinute, in.QuotaPerHour, in.QuotaPerDay,
		in.SentThisMinute, in.SentThisHour, in.SentThisDay,
		in.LastResetMinute, in.LastResetHour, in.LastResetDay,
		in.HealthScore, in.FailureCount, in.SuccessCount, in.ConsecutiveFailures,
		in.LastFailure, in.LastUsed, in.LastConnected, in.IsActive, in.CreatedAt, in.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (s *Store) GetSender(ctx context.Context, id string) (domain.Sender, bool, error) {
	v, err := scanSender(s.DB.QueryRow(ctx, `SELECT `+senderColumns+` FROM senders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Sender{}, false, nil
	}
	if err != nil {
		return domain.Sender{}, false, err
	}
	return v, true, nil
}

func (s *Store) ListSenders(ctx context.Context) ([]domain.Sender, error) {
	return collectSenders(s.DB.Query(ctx, `SELECT `+senderColumns+` FROM senders ORDER BY created_at DESC`))
}

func (s *Store) ListActiveSenders(ctx context.Context) ([]domain.Sender, error) {
	return collectSenders(s.DB.Query(ctx, `
		SELECT `+senderColumns+` FROM senders WHERE is_active ORDER BY health_score DESC, id
	`))
}

// ListSelectableSenders returns connected, active senders, least recently used first.
// An empty allow list means every sender is eligible.
func (s *Store) ListSelectableSenders(ctx context.Context, allow []string) ([]domain.Sender, error) {
	if len(allow) == 0 {
		return collectSenders(s.DB.Query(ctx, `
			SELECT `+senderColumns+` FROM senders
			WHERE status='connected' AND is_active
			ORDER BY last_used ASC NULLS FIRST, id
		`))
	}
	return collectSenders(s.DB.Query(ctx, `
		SELECT `+senderColumns+` FROM senders
		WHERE status='connected' AND is_active AND id = ANY($1)
		ORDER BY last_used ASC NULLS FIRST, id
	`, allow))
}

func (s *Store) DeleteSender(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM senders WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// MutateSender loads the sender FOR UPDATE, applies fn and writes the row back
// in one transaction.
func (s *Store) MutateSender(ctx context.Context, id string, fn store.SenderMutation) (domain.Sender, error) {
	var out domain.Sender
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		v, err := scanSender(tx.QueryRow(ctx, `SELECT `+senderColumns+` FROM senders WHERE id=$1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		out = v
		if err := fn(&v); err != nil {
			return err
		}
		v.UpdatedAt = time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE senders SET name=$2, phone_number=$3, status=$4,
				quota_per_minute=$5, quota_per_hour=$6, quota_per_day=$7,
				sent_this_minute=$8, sent_this_hour=$9, sent_this_day=$10,
				last_reset_minute=$11, last_reset_hour=$12, last_reset_day=$13,
				health_score=$14, failure_count=$15, success_count=$16, consecutive_failures=$17,
				last_failure=$18, last_used=$19, last_connected=$20, is_active=$21, updated_at=$22
			WHERE id=$1
		`, v.ID, v.Name, v.PhoneNumber, v.Status,
			v.QuotaPerMinute, v.QuotaPerHour, v.QuotaPerDay,
			v.SentThisMinute, v.SentThisHour, v.SentThisDay,
			v.LastResetMinute, v.LastResetHour, v.LastResetDay,
			v.HealthScore, v.FailureCount, v.SuccessCount, v.ConsecutiveFailures,
			v.LastFailure, v.LastUsed, v.LastConnected, v.IsActive, v.UpdatedAt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if errors.Is(err, store.ErrSkip) {
		return out, nil
	}
	return out, err
}

// IncrementSenderUsage bumps all three window counters in a single statement.
func (s *Store) IncrementSenderUsage(ctx context.Context, id string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE senders
		SET sent_this_minute = sent_this_minute + 1,
		    sent_this_hour = sent_this_hour + 1,
		    sent_this_day = sent_this_day + 1,
		    last_used=$2, updated_at=$2
		WHERE id=$1
	`, id, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// campaigns

const campaignColumns = `id, name, status, template, total_recipients, processed_count,
	success_count, failed_count, min_delay_ms, max_delay_ms, enable_typing, sender_ids,
	scheduled_start, started_at, completed_at, created_at, updated_at`

func scanCampaign(row scanner) (domain.Campaign, error) {
	var v domain.Campaign
	err := row.Scan(&v.ID, &v.Name, &v.Status, &v.Template, &v.TotalRecipients, &v.ProcessedCount,
		&v.SuccessCount, &v.FailedCount, &v.MinDelayMs, &v.MaxDelayMs, &v.EnableTyping, &v.SenderIDs,
		&v.ScheduledStart, &v.StartedAt, &v.CompletedAt, &v.CreatedAt, &v.UpdatedAt)
	if len(v.SenderIDs) == 0 {
		v.SenderIDs = nil
	}
	return v, err
}

func collectCampaigns(rows pgx.Rows, err error) ([]domain.Campaign, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Campaign
	for rows.Next() {
		v, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertCampaign writes the campaign and its contacts atomically.
func (s *Store) InsertCampaign(ctx context.Context, c domain.Campaign, contacts []domain.CampaignContact) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		senderIDs := c.SenderIDs
		if senderIDs == nil {
			senderIDs = []string{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO campaigns (`+campaignColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`, c.ID, c.Name, c.Status, c.Template, c.TotalRecipients, c.ProcessedCount,
			c.SuccessCount, c.FailedCount, c.MinDelayMs, c.MaxDelayMs, c.EnableTyping, senderIDs,
			c.ScheduledStart, c.StartedAt, c.CompletedAt, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, ct := range contacts {
			vars, _ := json.Marshal(ct.Variables)
			batch.Queue(`
				INSERT INTO campaign_contacts (id, campaign_id, phone_number, variables, status, created_at)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, ct.ID, ct.CampaignID, ct.PhoneNumber, vars, ct.Status, ct.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error) {
	v, err := scanCampaign(s.DB.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Campaign{}, false, nil
	}
	if err != nil {
		return domain.Campaign{}, false, err
	}
	return v, true, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	return collectCampaigns(s.DB.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`))
}

func (s *Store) ListDueScheduledCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	return collectCampaigns(s.DB.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status='scheduled' AND scheduled_start <= $1
		ORDER BY scheduled_start
	`, now))
}

func (s *Store) MutateCampaign(ctx context.Context, id string, fn store.CampaignMutation) (domain.Campaign, error) {
	var out domain.Campaign
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		v, err := scanCampaign(tx.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		out = v
		if err := fn(&v); err != nil {
			return err
		}
		v.UpdatedAt = time.Now().UTC()
		senderIDs := v.SenderIDs
		if senderIDs == nil {
			senderIDs = []string{}
		}
		_, err = tx.Exec(ctx, `
			UPDATE campaigns SET name=$2, status=$3, template=$4, total_recipients=$5,
				processed_count=$6, success_count=$7, failed_count=$8,
				min_delay_ms=$9, max_delay_ms=$10, enable_typing=$11, sender_ids=$12,
				scheduled_start=$13, started_at=$14, completed_at=$15, updated_at=$16
			WHERE id=$1
		`, v.ID, v.Name, v.Status, v.Template, v.TotalRecipients,
			v.ProcessedCount, v.SuccessCount, v.FailedCount,
			v.MinDelayMs, v.MaxDelayMs, v.EnableTyping, senderIDs,
			v.ScheduledStart, v.StartedAt, v.CompletedAt, v.UpdatedAt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if errors.Is(err, store.ErrSkip) {
		return out, nil
	}
	return out, err
}

func (s *Store) DeleteCampaign(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// contacts

const contactColumns = `id, campaign_id, phone_number, variables, status,
	COALESCE(assigned_sender_id,''), attempt_count, last_attempt, COALESCE(error_message,''),
	queued_at, sent_at, delivered_at, read_at, failed_at, created_at`

func scanContact(row scanner) (domain.CampaignContact, error) {
	var v domain.CampaignContact
	var vars []byte
	err := row.Scan(&v.ID, &v.CampaignID, &v.PhoneNumber, &vars, &v.Status,
		&v.AssignedSenderID, &v.AttemptCount, &v.LastAttempt, &v.ErrorMessage,
		&v.QueuedAt, &v.SentAt, &v.DeliveredAt, &v.ReadAt, &v.FailedAt, &v.CreatedAt)
	if err != nil {
		return v, err
	}
	if v.Variables, err = decodeVariables(vars); err != nil {
		return v, fmt.Errorf("contact %s variables: %w", v.ID, err)
	}
	return v, nil
}

func decodeVariables(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var vars map[string]string
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

func (s *Store) GetContact(ctx context.Context, id string) (domain.CampaignContact, bool, error) {
	v, err := scanContact(s.DB.QueryRow(ctx, `SELECT `+contactColumns+` FROM campaign_contacts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CampaignContact{}, false, nil
	}
	if err != nil {
		return domain.CampaignContact{}, false, err
	}
	return v, true, nil
}

func (s *Store) ListContacts(ctx context.Context, campaignID string, statuses ...domain.ContactStatus) ([]domain.CampaignContact, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.DB.Query(ctx, `
			SELECT `+contactColumns+` FROM campaign_contacts WHERE campaign_id=$1 ORDER BY created_at, id
		`, campaignID)
	} else {
		want := make([]string, len(statuses))
		for i, st := range statuses {
			want[i] = string(st)
		}
		rows, err = s.DB.Query(ctx, `
			SELECT `+contactColumns+` FROM campaign_contacts
			WHERE campaign_id=$1 AND status = ANY($2)
			ORDER BY created_at, id
		`, campaignID, want)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CampaignContact
	for rows.Next() {
		v, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ContactStats aggregates contact statuses on the server.
func (s *Store) ContactStats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT status, count(*) FROM campaign_contacts WHERE campaign_id=$1 GROUP BY status
	`, campaignID)
	if err != nil {
		return domain.CampaignStats{}, err
	}
	defer rows.Close()
	var contacts []domain.CampaignContact
	for rows.Next() {
		var st domain.ContactStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return domain.CampaignStats{}, err
		}
		for i := 0; i < n; i++ {
			contacts = append(contacts, domain.CampaignContact{Status: st})
		}
	}
	if err := rows.Err(); err != nil {
		return domain.CampaignStats{}, err
	}
	return domain.ComputeStats(contacts), nil
}

func (s *Store) MutateContact(ctx context.Context, id string, fn store.ContactMutation) (domain.CampaignContact, error) {
	var out domain.CampaignContact
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		v, err := scanContact(tx.QueryRow(ctx, `SELECT `+contactColumns+` FROM campaign_contacts WHERE id=$1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		out = v
		if err := fn(&v); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE campaign_contacts SET status=$2, assigned_sender_id=$3, attempt_count=$4,
				last_attempt=$5, error_message=$6, queued_at=$7, sent_at=$8,
				delivered_at=$9, read_at=$10, failed_at=$11
			WHERE id=$1
		`, v.ID, v.Status, nullIfEmpty(v.AssignedSenderID), v.AttemptCount,
			v.LastAttempt, nullIfEmpty(v.ErrorMessage), v.QueuedAt, v.SentAt,
			v.DeliveredAt, v.ReadAt, v.FailedAt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if errors.Is(err, store.ErrSkip) {
		return out, nil
	}
	return out, err
}

// message logs

func (s *Store) InsertMessageLog(ctx context.Context, l domain.MessageLog) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO message_logs (id, campaign_id, contact_id, phone_number, sender_id, message, status,
			provider_message_id, error_message, sent_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, l.ID, nullIfEmpty(l.CampaignID), nullIfEmpty(l.ContactID), l.PhoneNumber, l.SenderID, l.Message, l.Status,
		nullIfEmpty(l.ProviderID), nullIfEmpty(l.ErrorMessage), l.SentAt, l.CreatedAt)
	return err
}

func (s *Store) ListMessageLogs(ctx context.Context, campaignID string) ([]domain.MessageLog, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, COALESCE(campaign_id,''), COALESCE(contact_id,''), phone_number, sender_id, message, status,
		       COALESCE(provider_message_id,''), COALESCE(error_message,''), sent_at, created_at
		FROM message_logs
		WHERE $1 = '' OR campaign_id = $1
		ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MessageLog
	for rows.Next() {
		var l domain.MessageLog
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.ContactID, &l.PhoneNumber, &l.SenderID, &l.Message, &l.Status,
			&l.ProviderID, &l.ErrorMessage, &l.SentAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// broadcast lists

func (s *Store) InsertBroadcastList(ctx context.Context, l domain.BroadcastList) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO broadcast_lists (id, name, sender_id, total_members, created_at)
			VALUES ($1,$2,$3,$4,$5)
		`, l.ID, l.Name, l.SenderID, l.TotalMembers, l.CreatedAt)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, g := range l.Groups {
			batch.Queue(`
				INSERT INTO broadcast_groups (id, broadcast_list_id, broadcast_jid, position, members, member_count, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, g.ID, l.ID, g.BroadcastJID, g.Position, g.Members, g.MemberCount, g.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) GetBroadcastList(ctx context.Context, id string) (domain.BroadcastList, bool, error) {
	var l domain.BroadcastList
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, sender_id, total_members, created_at FROM broadcast_lists WHERE id=$1
	`, id).Scan(&l.ID, &l.Name, &l.SenderID, &l.TotalMembers, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BroadcastList{}, false, nil
	}
	if err != nil {
		return domain.BroadcastList{}, false, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT id, broadcast_list_id, broadcast_jid, position, members, member_count, created_at
		FROM broadcast_groups WHERE broadcast_list_id=$1 ORDER BY position
	`, id)
	if err != nil {
		return domain.BroadcastList{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var g domain.BroadcastGroup
		if err := rows.Scan(&g.ID, &g.BroadcastListID, &g.BroadcastJID, &g.Position, &g.Members, &g.MemberCount, &g.CreatedAt); err != nil {
			return domain.BroadcastList{}, false, err
		}
		l.Groups = append(l.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return domain.BroadcastList{}, false, err
	}
	return l, true, nil
}

// ListBroadcastLists returns list headers only; groups are loaded by GetBroadcastList.
func (s *Store) ListBroadcastLists(ctx context.Context) ([]domain.BroadcastList, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, sender_id, total_members, created_at FROM broadcast_lists ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BroadcastList
	for rows.Next() {
		var l domain.BroadcastList
		if err := rows.Scan(&l.ID, &l.Name, &l.SenderID, &l.TotalMembers, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBroadcastList(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM broadcast_lists WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// blocklist

func (s *Store) UpsertBlocked(ctx context.Context, e domain.BlocklistEntry) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO blocklist (id, phone_number, reason, notes, added_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (phone_number) DO UPDATE SET reason=EXCLUDED.reason, notes=EXCLUDED.notes
	`, e.ID, e.PhoneNumber, e.Reason, nullIfEmpty(e.Notes), e.AddedAt)
	return err
}

func (s *Store) DeleteBlocked(ctx context.Context, phone string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM blocklist WHERE phone_number=$1`, phone)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ListBlocked(ctx context.Context) ([]domain.BlocklistEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, phone_number, reason, COALESCE(notes,''), added_at FROM blocklist ORDER BY added_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BlocklistEntry
	for rows.Next() {
		var e domain.BlocklistEntry
		if err := rows.Scan(&e.ID, &e.PhoneNumber, &e.Reason, &e.Notes, &e.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) BlockedNumbers(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.DB.Query(ctx, `SELECT phone_number FROM blocklist`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]struct{}{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
