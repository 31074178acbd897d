package realtime

import "maps"

type subscription struct {
	channel string
	params  map[string]any
}

// subscriptionSet is the desired server-side set. Replacing a channel keeps
// its original position so replay order is stable.
type subscriptionSet struct {
	order  []string
	params map[string]map[string]any
}

func newSubscriptionSet() subscriptionSet {
	return subscriptionSet{params: make(map[string]map[string]any)}
}

func (s *subscriptionSet) put(channel string, params map[string]any) {
	if _, ok := s.params[channel]; !ok {
		s.order = append(s.order, channel)
	}
	s.params[channel] = maps.Clone(params)
}

func (s *subscriptionSet) remove(channel string) bool {
	if _, ok := s.params[channel]; !ok {
		return false
	}
	delete(s.params, channel)
	for i, name := range s.order {
		if name == channel {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *subscriptionSet) list() []subscription {
	out := make([]subscription, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, subscription{channel: name, params: maps.Clone(s.params[name])})
	}
	return out
}

func (s *subscriptionSet) channels() []string {
	return append([]string(nil), s.order...)
}
