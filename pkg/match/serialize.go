package match

import (
	"fmt"
	"strconv"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// Ephemeral match state lives in a store hash with flat string fields, so
// single-field mutations (code, ready, submitted) never rewrite the whole
// record. encodeState/decodeState must round-trip exactly.

func encodeState(m *models.MatchState) map[string]string {
	fields := map[string]string{
		"id":           m.ID,
		"challenge_id": m.ChallengeID,
		"status":       string(m.Status),
		"started_at":   strconv.FormatInt(m.StartedAt, 10),
		"created_at":   strconv.FormatInt(m.CreatedAt, 10),
	}
	encodePlayer(fields, "p1", &m.Player1)
	encodePlayer(fields, "p2", &m.Player2)
	return fields
}

func encodePlayer(fields map[string]string, prefix string, p *models.PlayerState) {
	fields[prefix+":user_id"] = p.UserID
	fields[prefix+":code"] = p.Code
	fields[prefix+":cursor_line"] = strconv.Itoa(p.Cursor.Line)
	fields[prefix+":cursor_col"] = strconv.Itoa(p.Cursor.Column)
	fields[prefix+":language"] = p.Language
	fields[prefix+":ready"] = strconv.FormatBool(p.Ready)
	fields[prefix+":submitted"] = strconv.FormatBool(p.Submitted)
	fields[prefix+":submitted_at"] = strconv.FormatInt(p.SubmittedAt, 10)
}

func decodeState(fields map[string]string) (*models.MatchState, error) {
	if len(fields) == 0 {
		return nil, ErrMatchNotFound
	}

	m := &models.MatchState{
		ID:          fields["id"],
		ChallengeID: fields["challenge_id"],
		Status:      models.MatchStatus(fields["status"]),
	}
	var err error
	if m.StartedAt, err = parseInt64(fields, "started_at"); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseInt64(fields, "created_at"); err != nil {
		return nil, err
	}
	if err := decodePlayer(fields, "p1", &m.Player1); err != nil {
		return nil, err
	}
	if err := decodePlayer(fields, "p2", &m.Player2); err != nil {
		return nil, err
	}
	return m, nil
}

func decodePlayer(fields map[string]string, prefix string, p *models.PlayerState) error {
	p.UserID = fields[prefix+":user_id"]
	p.Code = fields[prefix+":code"]
	p.Language = fields[prefix+":language"]

	var err error
	if p.Cursor.Line, err = parseInt(fields, prefix+":cursor_line"); err != nil {
		return err
	}
	if p.Cursor.Column, err = parseInt(fields, prefix+":cursor_col"); err != nil {
		return err
	}
	p.Ready = fields[prefix+":ready"] == "true"
	p.Submitted = fields[prefix+":submitted"] == "true"
	if p.SubmittedAt, err = parseInt64(fields, prefix+":submitted_at"); err != nil {
		return err
	}
	return nil
}

func parseInt64(fields map[string]string, key string) (int64, error) {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt match field %s: %w", key, err)
	}
	return v, nil
}

func parseInt(fields map[string]string, key string) (int, error) {
	v, err := parseInt64(fields, key)
	return int(v), err
}
