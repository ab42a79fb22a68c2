package analytics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"duelkit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	if e.UserID == "" {
		return
	}
	day := dayKey(e.Time)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
	if e.Opponent != "" {
		m[e.Opponent] = struct{}{}
	}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// Rival is a pair of users ranked by how often they met.
type Rival struct {
	A       core.UserID `json:"a"`
	B       core.UserID `json:"b"`
	Matches int64       `json:"matches"`
}

// MatchActivity tracks duel activity over time.
type MatchActivity struct {
	mu sync.RWMutex

	// Duelist engagement
	dailyActiveUsers   map[string]map[core.UserID]struct{}
	weeklyActiveUsers  map[string]map[core.UserID]struct{}
	monthlyActiveUsers map[string]map[core.UserID]struct{}

	matchesByDay       map[string]int64
	registrationsByDay map[string]int64
	pairings           map[[2]core.UserID]int64
	rebuildsByCounter  map[core.Counter]int64
	lastGeneration     map[core.Counter]uint64
}

func NewMatchActivity() *MatchActivity {
	return &MatchActivity{
		dailyActiveUsers:   make(map[string]map[core.UserID]struct{}),
		weeklyActiveUsers:  make(map[string]map[core.UserID]struct{}),
		monthlyActiveUsers: make(map[string]map[core.UserID]struct{}),
		matchesByDay:       make(map[string]int64),
		registrationsByDay: make(map[string]int64),
		pairings:           make(map[[2]core.UserID]int64),
		rebuildsByCounter:  make(map[core.Counter]int64),
		lastGeneration:     make(map[core.Counter]uint64),
	}
}

func (ma *MatchActivity) OnEvent(e core.Event) {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	day := dayKey(e.Time)
	week := getWeekKey(e.Time)
	month := getMonthKey(e.Time)

	switch e.Type {
	case core.EventMatchRecorded:
		ma.trackUserEngagement(e.UserID, day, week, month)
		ma.trackUserEngagement(e.Opponent, day, week, month)
		ma.matchesByDay[day]++
		ma.pairings[pairKey(e.UserID, e.Opponent)]++
	case core.EventUserCreated:
		ma.trackUserEngagement(e.UserID, day, week, month)
		ma.registrationsByDay[day]++
	case core.EventLeaderboardUpdated:
		ma.rebuildsByCounter[e.Counter]++
		ma.lastGeneration[e.Counter] = e.Generation
	}
}

func (ma *MatchActivity) trackUserEngagement(userID core.UserID, day, week, month string) {
	if userID == "" {
		return
	}
	add := func(m map[string]map[core.UserID]struct{}, key string) {
		if m[key] == nil {
			m[key] = make(map[core.UserID]struct{})
		}
		m[key][userID] = struct{}{}
	}
	add(ma.dailyActiveUsers, day)
	add(ma.weeklyActiveUsers, week)
	add(ma.monthlyActiveUsers, month)
}

// GetDailyActiveUsers returns the count of users who dueled or registered on a day
func (ma *MatchActivity) GetDailyActiveUsers(day string) int {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return len(ma.dailyActiveUsers[day])
}

// GetWeeklyActiveUsers returns the count of weekly active users for an ISO week key
func (ma *MatchActivity) GetWeeklyActiveUsers(week string) int {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return len(ma.weeklyActiveUsers[week])
}

// GetMonthlyActiveUsers returns the count of monthly active users for a specific month
func (ma *MatchActivity) GetMonthlyActiveUsers(month string) int {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return len(ma.monthlyActiveUsers[month])
}

func (ma *MatchActivity) GetMatchesByDay(day string) int64 {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return ma.matchesByDay[day]
}

func (ma *MatchActivity) GetRegistrationsByDay(day string) int64 {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return ma.registrationsByDay[day]
}

// GetRebuilds returns how many snapshots were published for a counter and
// the latest generation seen.
func (ma *MatchActivity) GetRebuilds(c core.Counter) (count int64, generation uint64) {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return ma.rebuildsByCounter[c], ma.lastGeneration[c]
}

// TopRivalries returns the most played pairings.
func (ma *MatchActivity) TopRivalries(limit int) []Rival {
	ma.mu.RLock()
	out := make([]Rival, 0, len(ma.pairings))
	for k, n := range ma.pairings {
		out = append(out, Rival{A: k[0], B: k[1], Matches: n})
	}
	ma.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Matches != out[j].Matches {
			return out[i].Matches > out[j].Matches
		}
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Summary returns aggregated numbers for reporting.
func (ma *MatchActivity) Summary(limit int) map[string]any {
	rivals := ma.TopRivalries(limit)

	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return map[string]any{
		"total_matches":       sumValues(ma.matchesByDay),
		"total_registrations": sumValues(ma.registrationsByDay),
		"top_rivalries":       rivals,
	}
}

// Helper functions
func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func getWeekKey(t time.Time) string {
	tt := t.UTC()
	year, week := tt.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func getMonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func pairKey(a, b core.UserID) [2]core.UserID {
	if b < a {
		a, b = b, a
	}
	return [2]core.UserID{a, b}
}

func sumValues(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}
