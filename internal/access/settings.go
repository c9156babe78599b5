package access

import (
	"context"
	"slices"
	"strings"

	"codegate/internal/storage"
)

// Settings holds the trigger command and the message templates.
type Settings struct{ s *State }

// Command is the trigger, always with its leading "/".
func (st *Settings) Command() (cmd string) {
	st.s.read(func(doc *storage.Document) { cmd = doc.Command })
	return cmd
}

// SetCommand stores raw as the trigger, adding the "/" marker if missing,
// and returns the stored form.
func (st *Settings) SetCommand(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "/" || strings.ContainsAny(raw, " \t\n@") {
		return "", ErrInvalidCommand
	}
	cmd := normalizeCommand(raw)
	_, err := st.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		if doc.Command == cmd {
			return false, nil
		}
		doc.Command = cmd
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return cmd, nil
}

func (st *Settings) Templates() (out []string) {
	st.s.read(func(doc *storage.Document) { out = slices.Clone(doc.Messages) })
	return out
}

// AddTemplate appends tpl. A duplicate is reported as false.
func (st *Settings) AddTemplate(ctx context.Context, tpl string) (bool, error) {
	if strings.TrimSpace(tpl) == "" {
		return false, ErrEmptyTemplate
	}
	return st.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		if slices.Contains(doc.Messages, tpl) {
			return false, nil
		}
		doc.Messages = append(doc.Messages, tpl)
		return true, nil
	})
}

// RemoveTemplate deletes the template at the 0-based index and returns it.
func (st *Settings) RemoveTemplate(ctx context.Context, index int) (string, error) {
	var removed string
	_, err := st.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		if index < 0 || index >= len(doc.Messages) {
			return false, ErrIndexOutOfRange
		}
		removed = doc.Messages[index]
		doc.Messages = slices.Delete(doc.Messages, index, index+1)
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return removed, nil
}

// ResetTemplates restores the single default template.
func (st *Settings) ResetTemplates(ctx context.Context) error {
	_, err := st.s.mutate(ctx, func(doc *storage.Document) (bool, error) {
		if slices.Equal(doc.Messages, []string{DefaultTemplate}) {
			return false, nil
		}
		doc.Messages = []string{DefaultTemplate}
		return true, nil
	})
	return err
}
