package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// SessionStore keeps all canonical session state in Redis. Keys of one
// session share the {CODE} hash tag so scripts stay valid in cluster mode:
//
//	lq:{CODE}:session          hash   quizId status currentIndex totalQuestions hostId deadlineMs createdAtMs
//	lq:{CODE}:players          hash   playerId -> displayName (current roster)
//	lq:{CODE}:names            hash   playerId -> displayName (everyone who ever joined)
//	lq:{CODE}:scores           hash   playerId -> score
//	lq:{CODE}:quiz             string public snapshot JSON
//	lq:{CODE}:quiz:correct     string answer key JSON
//	lq:{CODE}:answered:{idx}   set    playerIds
//	lq:{CODE}:answers:{idx}    hash   playerId -> payload JSON
//
// Every write re-arms the expiry of all of these keys at once, so a session
// and its roster, scores, snapshots and answers expire together.
type SessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionStore(client redis.UniversalClient, ttl time.Duration) *SessionStore {
	return NewSessionStoreWithClock(client, ttl, time.Now)
}

// NewSessionStoreWithClock is test-only for deterministic deadlines.
func NewSessionStoreWithClock(client redis.UniversalClient, ttl time.Duration, now func() time.Time) *SessionStore {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &SessionStore{client: client, ttl: ttl, now: now}
}

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'quizId', ARGV[1], 'status', 'lobby', 'currentIndex', -1,
  'totalQuestions', 0, 'hostId', ARGV[2], 'deadlineMs', 0, 'createdAtMs', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// refreshLua is prepended to every mutating script. Scripts take the keys
// from sessionKeys in order, and refresh(ttl) re-arms all of them together
// with the answered/answers keys of every question reached so far.
const refreshLua = `
local function refresh(ttl)
  for i = 1, 6 do redis.call('PEXPIRE', KEYS[i], ttl) end
  local base = string.sub(KEYS[1], 1, -9)
  local idx = tonumber(redis.call('HGET', KEYS[1], 'currentIndex') or '-1')
  for i = 0, idx do
    redis.call('PEXPIRE', base .. ':answered:' .. i, ttl)
    redis.call('PEXPIRE', base .. ':answers:' .. i, ttl)
  end
end
`

func sessionScript(body string) *redis.Script { return redis.NewScript(refreshLua + body) }

var transitionScript = sessionScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return -1 end
if cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
refresh(ARGV[3])
return 1
`)

var setIndexScript = sessionScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'currentIndex', ARGV[1], 'deadlineMs', ARGV[2])
refresh(ARGV[3])
return 1
`)

var advanceScript = sessionScript(`
local st = redis.call('HMGET', KEYS[1], 'status', 'currentIndex')
if not st[1] then return -1 end
if st[1] ~= 'running' or tonumber(st[2]) ~= tonumber(ARGV[1]) then return 0 end
redis.call('HSET', KEYS[1], 'currentIndex', tonumber(ARGV[1]) + 1, 'deadlineMs', ARGV[2])
refresh(ARGV[3])
return 1
`)

var claimHostScript = sessionScript(`
local host = redis.call('HGET', KEYS[1], 'hostId')
if not host then return {-1, ''} end
if host == ARGV[1] then
  redis.call('HSET', KEYS[1], 'hostId', ARGV[2])
  refresh(ARGV[3])
  return {1, ARGV[2]}
end
return {0, host}
`)

var addPlayerScript = sessionScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HSETNX', KEYS[4], ARGV[1], 0)
refresh(ARGV[3])
return 1
`)

var removePlayerScript = sessionScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HDEL', KEYS[2], ARGV[1])
refresh(ARGV[2])
return 1
`)

var incrementScript = sessionScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {0, 0} end
local score = redis.call('HINCRBY', KEYS[4], ARGV[1], ARGV[2])
refresh(ARGV[3])
return {1, score}
`)

var snapshotScript = sessionScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('SET', KEYS[5], ARGV[1])
redis.call('SET', KEYS[6], ARGV[2])
redis.call('HSET', KEYS[1], 'totalQuestions', ARGV[3])
refresh(ARGV[4])
return 1
`)

// answerScript is the idempotency gate. ARGV[7] carries the caller's verdict
// on the payload: ok, invalid or nokey. Results:
// -2 session missing, -1 not running or not the current question,
// -3 past deadline, 0 already answered, -4 payload rejected, 1 recorded.
var answerScript = sessionScript(`
local st = redis.call('HMGET', KEYS[1], 'status', 'currentIndex', 'deadlineMs')
if not st[1] then return {-2, 0} end
if st[1] ~= 'running' or tonumber(st[2]) ~= tonumber(ARGV[1]) or ARGV[7] == 'nokey' then return {-1, 0} end
local score = tonumber(redis.call('HGET', KEYS[4], ARGV[2]) or '0')
if tonumber(ARGV[5]) > tonumber(st[3]) then return {-3, score} end
if redis.call('SISMEMBER', KEYS[7], ARGV[2]) == 1 then return {0, score} end
if ARGV[7] == 'invalid' then return {-4, score} end
redis.call('SADD', KEYS[7], ARGV[2])
redis.call('HSET', KEYS[8], ARGV[2], ARGV[3])
local points = tonumber(ARGV[4])
if points > 0 then score = redis.call('HINCRBY', KEYS[4], ARGV[2], points) end
refresh(ARGV[6])
return {1, score}
`)

func (s *SessionStore) Create(ctx context.Context, code, quizID string) (bool, error) {
	res, err := createScript.Run(ctx, s.client, []string{sessionKey(code)},
		quizID, domain.PendingHost, s.now().UnixMilli(), s.ttlMillis()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: create session %s: %w", code, err)
	}
	return res == 1, nil
}

func (s *SessionStore) Exists(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: exists %s: %w", code, err)
	}
	return n == 1, nil
}

func (s *SessionStore) Info(ctx context.Context, code string) (domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(code)).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("redis: session %s: %w", code, err)
	}
	if len(fields) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	info := domain.Session{
		Code:           code,
		QuizID:         fields["quizId"],
		Status:         domain.Status(fields["status"]),
		CurrentIndex:   atoi(fields["currentIndex"]),
		TotalQuestions: atoi(fields["totalQuestions"]),
		HostID:         fields["hostId"],
		CreatedAt:      time.UnixMilli(atoi64(fields["createdAtMs"])).UTC(),
	}
	if ms := atoi64(fields["deadlineMs"]); ms > 0 {
		info.QuestionDeadline = time.UnixMilli(ms).UTC()
	}
	return info, nil
}

func (s *SessionStore) Status(ctx context.Context, code string) (domain.Status, error) {
	status, err := s.client.HGet(ctx, sessionKey(code), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: status %s: %w", code, err)
	}
	return domain.Status(status), nil
}

func (s *SessionStore) TransitionStatus(ctx context.Context, code string, from, to domain.Status) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, from, to)
	}
	res, err := transitionScript.Run(ctx, s.client, sessionKeys(code),
		string(from), string(to), s.ttlMillis()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: transition %s: %w", code, err)
	}
	if res < 0 {
		return false, domain.ErrSessionNotFound
	}
	return res == 1, nil
}

func (s *SessionStore) SetCurrentIndex(ctx context.Context, code string, index, timeLimitSeconds int) (time.Time, error) {
	deadline := s.deadline(timeLimitSeconds)
	res, err := setIndexScript.Run(ctx, s.client, sessionKeys(code),
		index, deadline.UnixMilli(), s.ttlMillis()).Int()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: set index %s: %w", code, err)
	}
	if res == 0 {
		return time.Time{}, domain.ErrSessionNotFound
	}
	return deadline, nil
}

func (s *SessionStore) AdvanceIndex(ctx context.Context, code string, from, timeLimitSeconds int) (time.Time, bool, error) {
	deadline := s.deadline(timeLimitSeconds)
	res, err := advanceScript.Run(ctx, s.client, sessionKeys(code),
		from, deadline.UnixMilli(), s.ttlMillis()).Int()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: advance %s: %w", code, err)
	}
	switch res {
	case -1:
		return time.Time{}, false, domain.ErrSessionNotFound
	case 0:
		return time.Time{}, false, nil
	}
	return deadline, true, nil
}

func (s *SessionStore) deadline(timeLimitSeconds int) time.Time {
	return s.now().Add(time.Duration(timeLimitSeconds) * time.Second).Truncate(time.Millisecond).UTC()
}

func (s *SessionStore) ClaimHost(ctx context.Context, code, playerID string) (string, bool, error) {
	res, err := claimHostScript.Run(ctx, s.client, sessionKeys(code),
		domain.PendingHost, playerID, s.ttlMillis()).Slice()
	if err != nil {
		return "", false, fmt.Errorf("redis: claim host %s: %w", code, err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("redis: claim host %s: unexpected reply %v", code, res)
	}
	status, _ := res[0].(int64)
	host, _ := res[1].(string)
	if status < 0 {
		return "", false, domain.ErrSessionNotFound
	}
	return host, status == 1, nil
}

func (s *SessionStore) KnownPlayer(ctx context.Context, code, playerID string) (bool, error) {
	ok, err := s.client.HExists(ctx, namesKey(code), playerID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: known player %s: %w", code, err)
	}
	return ok, nil
}

func (s *SessionStore) AddPlayer(ctx context.Context, code string, player domain.Player) error {
	res, err := addPlayerScript.Run(ctx, s.client, sessionKeys(code), player.ID, player.DisplayName, s.ttlMillis()).Int()
	if err != nil {
		return fmt.Errorf("redis: add player %s: %w", code, err)
	}
	if res == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) RemovePlayer(ctx context.Context, code, playerID string) error {
	res, err := removePlayerScript.Run(ctx, s.client, sessionKeys(code), playerID, s.ttlMillis()).Int()
	if err != nil {
		return fmt.Errorf("redis: remove player %s: %w", code, err)
	}
	if res == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) Players(ctx context.Context, code string) ([]domain.Player, error) {
	roster, err := s.client.HGetAll(ctx, playersKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: players %s: %w", code, err)
	}
	players := make([]domain.Player, 0, len(roster))
	for id, name := range roster {
		players = append(players, domain.Player{ID: id, DisplayName: name})
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].DisplayName != players[j].DisplayName {
			return players[i].DisplayName < players[j].DisplayName
		}
		return players[i].ID < players[j].ID
	})
	return players, nil
}

func (s *SessionStore) PlayerCount(ctx context.Context, code string) (int, error) {
	n, err := s.client.HLen(ctx, playersKey(code)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: player count %s: %w", code, err)
	}
	return int(n), nil
}

func (s *SessionStore) PlayerNames(ctx context.Context, code string) (map[string]string, error) {
	names, err := s.client.HGetAll(ctx, namesKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: names %s: %w", code, err)
	}
	return names, nil
}

func (s *SessionStore) Scores(ctx context.Context, code string) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, scoresKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: scores %s: %w", code, err)
	}
	scores := make(map[string]int, len(raw))
	for id, v := range raw {
		scores[id] = atoi(v)
	}
	return scores, nil
}

func (s *SessionStore) IncrementScore(ctx context.Context, code, playerID string, delta int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("%w: negative score delta", domain.ErrInvalidInput)
	}
	res, err := incrementScript.Run(ctx, s.client, sessionKeys(code), playerID, delta, s.ttlMillis()).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("redis: increment score %s: %w", code, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("redis: increment score %s: unexpected reply %v", code, res)
	}
	if res[0] == 0 {
		return 0, domain.ErrSessionNotFound
	}
	return int(res[1]), nil
}

func (s *SessionStore) StoreQuizSnapshot(ctx context.Context, code string, snap domain.QuizSnapshot) error {
	public, err := json.Marshal(snap.Public)
	if err != nil {
		return err
	}
	correct, err := json.Marshal(snap.Correct)
	if err != nil {
		return err
	}
	res, err := snapshotScript.Run(ctx, s.client, sessionKeys(code),
		public, correct, len(snap.Public.Questions), s.ttlMillis()).Int()
	if err != nil {
		return fmt.Errorf("redis: store snapshot %s: %w", code, err)
	}
	if res == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) PublicSnapshot(ctx context.Context, code string) (domain.QuizPublicSnapshot, bool, error) {
	var snap domain.QuizPublicSnapshot
	ok, err := s.getJSON(ctx, quizKey(code), &snap)
	return snap, ok, err
}

func (s *SessionStore) Question(ctx context.Context, code string, index int) (domain.PublicQuestion, bool, error) {
	snap, ok, err := s.PublicSnapshot(ctx, code)
	if err != nil || !ok {
		return domain.PublicQuestion{}, false, err
	}
	if index < 0 || index >= len(snap.Questions) {
		return domain.PublicQuestion{}, false, nil
	}
	return snap.Questions[index], true, nil
}

// SaveAndCheckAnswer evaluates the payload against the stored answer key. The
// script applies that verdict only after its deadline and replay checks.
func (s *SessionStore) SaveAndCheckAnswer(ctx context.Context, code string, index int, playerID string, payload domain.AnswerPayload) (domain.AnswerResult, error) {
	var key domain.QuizCorrectSnapshot
	ok, err := s.getJSON(ctx, correctKey(code), &key)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	verdict := "ok"
	var (
		correct  bool
		points   int
		scoreErr error
	)
	if !ok || index < 0 || index >= len(key.Questions) {
		verdict = "nokey"
	} else if correct, points, scoreErr = domain.Score(key.Questions[index], payload); scoreErr != nil {
		verdict = "invalid"
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	keys := append(sessionKeys(code), answeredKey(code, index), answersKey(code, index))
	res, err := answerScript.Run(ctx, s.client, keys,
		index, playerID, raw, points, s.now().UnixMilli(), s.ttlMillis(), verdict).Int64Slice()
	if err != nil {
		return domain.AnswerResult{}, fmt.Errorf("redis: save answer %s: %w", code, err)
	}
	if len(res) != 2 {
		return domain.AnswerResult{}, fmt.Errorf("redis: save answer %s: unexpected reply %v", code, res)
	}
	score := int(res[1])
	switch res[0] {
	case -2:
		return domain.AnswerResult{}, domain.ErrSessionNotFound
	case -1:
		return domain.AnswerResult{}, domain.ErrQuestionMismatch
	case -3:
		return domain.AnswerResult{Expired: true, Score: score}, nil
	case 0:
		return domain.AnswerResult{AlreadyAnswered: true, Score: score}, nil
	case -4:
		return domain.AnswerResult{}, scoreErr
	}
	return domain.AnswerResult{IsCorrect: correct, PointsEarned: points, Score: score}, nil
}

func (s *SessionStore) AnsweredPlayers(ctx context.Context, code string, index int) ([]string, error) {
	ids, err := s.client.SMembers(ctx, answeredKey(code, index)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: answered %s: %w", code, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *SessionStore) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SessionStore) ttlMillis() int64 { return s.ttl.Milliseconds() }

func prefix(code string) string { return "lq:{" + code + "}" }

// sessionKeys is the KEYS layout shared by the scripts built with sessionScript.
func sessionKeys(code string) []string {
	return []string{sessionKey(code), playersKey(code), namesKey(code), scoresKey(code), quizKey(code), correctKey(code)}
}

func sessionKey(code string) string { return prefix(code) + ":session" }
func playersKey(code string) string { return prefix(code) + ":players" }
func namesKey(code string) string   { return prefix(code) + ":names" }
func scoresKey(code string) string  { return prefix(code) + ":scores" }
func quizKey(code string) string    { return prefix(code) + ":quiz" }
func correctKey(code string) string { return prefix(code) + ":quiz:correct" }

func answeredKey(code string, index int) string {
	return prefix(code) + ":answered:" + strconv.Itoa(index)
}

func answersKey(code string, index int) string {
	return prefix(code) + ":answers:" + strconv.Itoa(index)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
