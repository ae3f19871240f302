package stream

import (
	"sort"
	"sync"

	"github.com/tylerebowers/schwab-go/internal/param"
)

// Ledger records the client's subscription intent so a reconnected session
// can replay it. It is the client's best record, not a view of server state.
type Ledger struct {
	mu       sync.Mutex
	services map[string]map[string]map[string]bool // service → key → field set
}

func NewLedger() *Ledger {
	return &Ledger{services: map[string]map[string]map[string]bool{}}
}

// Record folds req into the ledger according to its command: ADD unions
// fields into a key, SUBS replaces the whole service, UNSUBS removes keys,
// VIEW overwrites the field set of every existing key. Requests without
// parameters (ADMIN traffic) are ignored.
func (l *Ledger) Record(req Request) {
	if req.Service == "" || req.Parameters == nil {
		return
	}
	keys := param.Split(req.Parameters["keys"])
	fields := param.Split(req.Parameters["fields"])

	l.mu.Lock()
	defer l.mu.Unlock()
	svc := l.services[req.Service]
	if svc == nil {
		svc = map[string]map[string]bool{}
		l.services[req.Service] = svc
	}
	switch req.Command {
	case Add:
		for _, key := range keys {
			set := svc[key]
			if set == nil {
				set = map[string]bool{}
				svc[key] = set
			}
			for _, f := range fields {
				set[f] = true
			}
		}
	case Subs:
		svc = map[string]map[string]bool{}
		l.services[req.Service] = svc
		for _, key := range keys {
			set := map[string]bool{}
			for _, f := range fields {
				set[f] = true
			}
			svc[key] = set
		}
	case Unsubs:
		for _, key := range keys {
			delete(svc, key)
		}
	case View:
		for key := range svc {
			set := map[string]bool{}
			for _, f := range fields {
				set[f] = true
			}
			svc[key] = set
		}
	}
}

// Clear drops every recorded subscription.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = map[string]map[string]map[string]bool{}
}

// Empty reports whether nothing is recorded.
func (l *Ledger) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, svc := range l.services {
		if len(svc) > 0 {
			return false
		}
	}
	return true
}

// Subscriptions returns a sorted snapshot of the recorded state, keyed by
// service then subscription key.
func (l *Ledger) Subscriptions() map[string]map[string][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]map[string][]string, len(l.services))
	for service, svc := range l.services {
		keys := make(map[string][]string, len(svc))
		for key, set := range svc {
			keys[key] = sortedFields(set)
		}
		out[service] = keys
	}
	return out
}

// replayGroup is one replay ADD request worth of state: every key in a
// service that shares the same field set.
type replayGroup struct {
	keys   []string
	fields []string
}

// serviceReplay is the replay bundle for one service.
type serviceReplay struct {
	service string
	groups  []replayGroup
}

// replay merges subscriptions that share a field set into one group per
// distinct set, sorted throughout for deterministic requests.
func (l *Ledger) replay() []serviceReplay {
	l.mu.Lock()
	defer l.mu.Unlock()

	services := make([]string, 0, len(l.services))
	for service, svc := range l.services {
		if len(svc) > 0 {
			services = append(services, service)
		}
	}
	sort.Strings(services)

	out := make([]serviceReplay, 0, len(services))
	for _, service := range services {
		svc := l.services[service]
		grouped := map[string][]string{} // joined field set → keys
		for key, set := range svc {
			fs := param.List(sortedFields(set))
			grouped[fs] = append(grouped[fs], key)
		}
		sets := make([]string, 0, len(grouped))
		for fs := range grouped {
			sets = append(sets, fs)
		}
		sort.Strings(sets)
		groups := make([]replayGroup, 0, len(sets))
		for _, fs := range sets {
			keys := grouped[fs]
			sort.Strings(keys)
			groups = append(groups, replayGroup{keys: keys, fields: param.Split(fs)})
		}
		out = append(out, serviceReplay{service: service, groups: groups})
	}
	return out
}

func sortedFields(set map[string]bool) []string {
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
