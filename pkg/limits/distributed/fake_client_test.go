package distributed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/quotaguard/pkg/limits/ratelimit"
)

// replyError is an error reply from a reachable server.
type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

var errConnRefused = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

// fakeStore mirrors sliding_log.lua over in-memory sorted sets. One mutex
// makes every call atomic, like the Redis event loop.
type fakeStore struct {
	mu      sync.Mutex
	clock   *ratelimit.ManualClock
	sets    map[string]map[string]int64 // key -> member -> score (us)
	ttls    map[string]time.Duration
	scripts map[string]bool

	down        bool
	forgetLoads bool // ScriptLoad succeeds but the script never sticks
	evalCalls   int
	loadCalls   int
}

func newFakeStore(start time.Time) *fakeStore {
	return &fakeStore{
		clock:   ratelimit.NewManualClock(start),
		sets:    make(map[string]map[string]int64),
		ttls:    make(map[string]time.Duration),
		scripts: make(map[string]bool),
	}
}

func (f *fakeStore) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeStore) flushScripts() {
	f.mu.Lock()
	f.scripts = make(map[string]bool)
	f.mu.Unlock()
}

func (f *fakeStore) calls() (eval, load int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evalCalls, f.loadCalls
}

func (f *fakeStore) EvalSha(_ context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evalCalls++
	if f.down {
		return redis.NewCmdResult(nil, errConnRefused)
	}
	if !f.scripts[sha] {
		return redis.NewCmdResult(nil, replyError("NOSCRIPT No matching script. Please use EVAL."))
	}

	key := keys[0]
	window := argInt(args[1])
	limit := argInt(args[2])
	member := fmt.Sprint(args[3])
	ttl := time.Duration(argInt(args[4])) * time.Millisecond
	tolerance := argInt(args[5])

	now := f.clock.Now().UnixMicro()
	if caller := fmt.Sprint(args[0]); caller != "" {
		c := argInt(caller)
		if math.Abs(float64(c-now)) > float64(tolerance) {
			return redis.NewCmdResult(nil, replyError("CLOCKSKEW caller clock outside tolerance"))
		}
		now = c
	}

	set := f.sets[key]
	if set == nil {
		set = make(map[string]int64)
		f.sets[key] = set
	}
	for m, score := range set {
		if score < now-window {
			delete(set, m)
		}
	}

	if _, ok := set[member]; ok {
		return redis.NewCmdResult([]interface{}{int64(1), int64(len(set)), int64(1), int64(0)}, nil)
	}

	count := int64(len(set))
	if count < limit {
		set[member] = now
		f.ttls[key] = ttl
		return redis.NewCmdResult([]interface{}{int64(1), count + 1, int64(0), int64(0)}, nil)
	}

	oldest := int64(math.MaxInt64)
	for _, score := range set {
		oldest = min(oldest, score)
	}
	return redis.NewCmdResult([]interface{}{int64(0), count, int64(0), oldest + window - now}, nil)
}

func (f *fakeStore) ScriptLoad(_ context.Context, script string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loadCalls++
	if f.down {
		return redis.NewStringResult("", errConnRefused)
	}
	sha := redis.NewScript(script).Hash()
	if !f.forgetLoads {
		f.scripts[sha] = true
	}
	return redis.NewStringResult(sha, nil)
}

func (f *fakeStore) Time(_ context.Context) *redis.TimeCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return redis.NewTimeCmdResult(time.Time{}, errConnRefused)
	}
	return redis.NewTimeCmdResult(f.clock.Now(), nil)
}

func (f *fakeStore) ZCount(_ context.Context, key, minScore, maxScore string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return redis.NewIntResult(0, errConnRefused)
	}
	lo := argInt(minScore)
	hi := int64(math.MaxInt64)
	if maxScore != "+inf" {
		hi = argInt(maxScore)
	}

	var n int64
	for _, score := range f.sets[key] {
		if score >= lo && score <= hi {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return redis.NewIntResult(0, errConnRefused)
	}
	var n int64
	for _, key := range keys {
		if _, ok := f.sets[key]; ok {
			delete(f.sets, key)
			delete(f.ttls, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeStore) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return redis.NewScanCmdResult(nil, 0, errConnRefused)
	}
	var keys []string
	for key, set := range f.sets {
		if len(set) == 0 {
			continue
		}
		if ok, _ := path.Match(match, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeStore) Ping(_ context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return redis.NewStatusResult("", errConnRefused)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeStore) ttl(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

func argInt(v interface{}) int64 {
	n, err := strconv.ParseInt(strings.TrimPrefix(fmt.Sprint(v), "("), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("bad integer argument %v", v))
	}
	return n
}
