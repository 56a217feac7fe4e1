package signals

import "strings"

type category struct {
	name     string
	keywords []string
}

var topicTable = []category{
	{"work", []string{"work", "job", "boss", "colleague", "deadline", "meeting", "career", "office"}},
	{"relationships", []string{"partner", "friend", "family", "mother", "father", "relationship", "dating", "marriage"}},
	{"health", []string{"health", "sleep", "tired", "sick", "pain", "body", "eating"}},
	{"anxiety", []string{"anxious", "worried", "nervous", "panic", "fear", "scared", "stress"}},
	{"sadness", []string{"sad", "depressed", "hopeless", "crying", "lonely", "empty", "grief"}},
	{"anger", []string{"angry", "frustrated", "annoyed", "mad", "furious", "resentful"}},
	{"self_worth", []string{"worthless", "failure", "not good enough", "hate myself", "stupid", "useless"}},
	{"future", []string{"future", "tomorrow", "next week", "goals", "plans", "dream"}},
}

// TopicNames lists every topic category in table order.
func TopicNames() []string {
	out := make([]string, len(topicTable))
	for i, c := range topicTable {
		out[i] = c.name
	}
	return out
}

// Topics returns the categories whose keywords appear in message.
func Topics(message string) []string {
	lower := strings.ToLower(message)
	var found []string
	for _, c := range topicTable {
		if _, ok := containsAny(lower, c.keywords); ok {
			found = append(found, c.name)
		}
	}
	return found
}
