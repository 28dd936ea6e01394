package kt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// SkillVerifier decides whether a skill id may receive initial settings
// before any record exists for it.
type SkillVerifier interface {
	VerifySkill(ctx context.Context, skillID string) error
}

// AcceptAll is the verifier used when no skill manager is wired in.
type AcceptAll struct{}

func (AcceptAll) VerifySkill(context.Context, string) error { return nil }

// Requester publishes an event and waits for its first response.
type Requester interface {
	Request(ctx context.Context, event string, payload any) (json.RawMessage, error)
}

// SkillNameEvent is answered by the skill manager.
const SkillNameEvent = "tutorgen.get_skill_name"

// HubVerifier asks the skill manager for the skill's name through the hub.
// Any reply without an "error" field accepts the skill.
type HubVerifier struct {
	Requester Requester
}

func (v *HubVerifier) VerifySkill(ctx context.Context, skillID string) error {
	reply, err := v.Requester.Request(ctx, SkillNameEvent, map[string]string{"skill_id": skillID})
	if err != nil {
		return fmt.Errorf("asking skill manager: %w", err)
	}
	if reason := gjson.GetBytes(reply, "error"); reason.Exists() {
		return &SkillRejectedError{SkillID: skillID, Reason: reason.String()}
	}
	return nil
}
