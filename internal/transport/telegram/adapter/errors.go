package adapter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "codegate/internal/transport"
)

// classify maps telebot failures onto the transport error taxonomy. The
// original error stays in the chain for logging.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := floodWait(err); ok {
		return &kit.FloodWaitError{Wait: wait}
	}

	desc := strings.ToLower(err.Error())
	switch {
	case containsAny(desc,
		"have no rights to send", "not enough rights to send", "chat_write_forbidden",
		"bot was kicked", "bot is not a member", "need administrator rights in the channel"):
		return fmt.Errorf("%w: %v", kit.ErrWriteForbidden, err)
	case containsAny(desc, "chat not found", "user not found", "participant_id_invalid", "member list is inaccessible"):
		return fmt.Errorf("%w: %v", kit.ErrNotParticipant, err)
	case containsAny(desc, "username_invalid", "username_not_occupied", "invalid user_id"):
		return fmt.Errorf("%w: %v", kit.ErrInvalidIdentity, err)
	}

	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return fmt.Errorf("%w: %v", kit.ErrWriteForbidden, err)
	}
	return err
}

func classifyDelete(err error) error {
	if err == nil {
		return nil
	}
	desc := strings.ToLower(err.Error())
	if containsAny(desc, "message can't be deleted", "not enough rights to delete", "have no rights to delete") {
		return fmt.Errorf("%w: %v", kit.ErrDeleteForbidden, err)
	}
	return classify(err)
}

func floodWait(err error) (time.Duration, bool) {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return time.Duration(fe.RetryAfter) * time.Second, true
	}
	var pfe *tele.FloodError
	if errors.As(err, &pfe) && pfe != nil {
		return time.Duration(pfe.RetryAfter) * time.Second, true
	}
	return 0, false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// parseChatID accepts plain and negative numeric ids.
func parseChatID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id, err == nil
}
