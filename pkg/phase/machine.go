package phase

import (
	"fmt"
	"strings"
)

// Rule gates the move out of a phase.
type Rule struct {
	Next         Phase
	MinExchanges int
	Triggers     []string
	Reason       string
}

var rules = map[Phase]Rule{
	Opening: {
		Next:         Exploration,
		MinExchanges: 1,
		Triggers:     []string{"feel", "been feeling", "struggling", "help", "want to talk about", "going through"},
		Reason:       "User began sharing what's on their mind - moving from greeting to exploration",
	},
	Exploration: {
		Next:         Deepening,
		MinExchanges: 2,
		Triggers:     []string{"because", "think it's", "started when", "always", "never", "reminds me"},
		Reason:       "User revealed underlying causes/patterns - ready to go deeper",
	},
	Deepening: {
		Next:         Technique,
		MinExchanges: 2,
		Triggers:     []string{"what should i", "how can i", "want to change", "need help", "what do you think"},
		Reason:       "User asking for guidance or ready for therapeutic intervention",
	},
	Technique: {
		Next:         Integration,
		MinExchanges: 2,
		Triggers:     []string{"that helps", "i see", "makes sense", "never thought of it", "feel better"},
		Reason:       "User showing understanding and acceptance - time to integrate insights",
	},
	Integration: {
		Next:         Closing,
		MinExchanges: 1,
		Triggers:     []string{"thank you", "helpful", "going to try", "feel better", "appreciate"},
		Reason:       "User expressing gratitude or closure - wrapping up session",
	},
}

var guidance = map[Phase]string{
	Opening:     "Build rapport. Ask what brings them here. Be warm and welcoming. Don't rush into techniques.",
	Exploration: "Understand the situation better. Ask clarifying questions. Reflect back what you hear. Identify the core issue.",
	Deepening:   "Go deeper into emotions and root causes. Use open-ended questions. Validate their experience. Look for patterns.",
	Technique:   "Apply appropriate therapeutic techniques. Guide them through exercises. Offer new perspectives. Be action-oriented.",
	Integration: "Help them integrate insights. Ask what they're taking away. Reinforce progress. Discuss how to apply learnings.",
	Closing:     "Summarize the session. Acknowledge their courage. Offer encouragement. Invite them back.",
}

// RuleFor returns the rule that moves out of p.
func RuleFor(p Phase) (Rule, bool) {
	r, ok := rules[p]
	return r, ok
}

// Guidance returns the response-generation guidance for p.
func (p Phase) Guidance() string {
	if g, ok := guidance[p]; ok {
		return g
	}
	return "Continue supporting the user empathetically."
}

// Transition is a fired phase change.
type Transition struct {
	From             Phase
	To               Phase
	ExchangesInPhase int
	Trigger          string
	Reason           string
}

// Check evaluates the rule for current against the exchange count in that
// phase and the user's message. It fires only when the gate is met and the
// message contains a trigger phrase, case-insensitively.
func Check(current Phase, exchangesInPhase int, message string) (Transition, bool) {
	r, ok := rules[current]
	if !ok || exchangesInPhase < r.MinExchanges {
		return Transition{}, false
	}
	lower := strings.ToLower(message)
	for _, trig := range r.Triggers {
		if strings.Contains(lower, trig) {
			reason := r.Reason
			if reason == "" {
				reason = fmt.Sprintf("Natural progression from %s to %s based on user signals", current, r.Next)
			}
			return Transition{
				From:             current,
				To:               r.Next,
				ExchangesInPhase: exchangesInPhase,
				Trigger:          trig,
				Reason:           reason,
			}, true
		}
	}
	return Transition{}, false
}
