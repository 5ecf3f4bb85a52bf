package repository

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// scriptReply is the {ok, code, ...} triple every primitive returns
type scriptReply struct {
	ok     bool
	code   string
	values []interface{}
}

func parseReply(cmd *redis.Cmd, script string) (*scriptReply, error) {
	if err := cmd.Err(); err != nil {
		return nil, fmt.Errorf("failed to execute %s script: %w", script, err)
	}
	values, err := cmd.Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s result: %w", script, err)
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("unexpected %s result length: %d", script, len(values))
	}
	ok, _ := toInt64(values[0])
	code, _ := values[1].(string)
	return &scriptReply{ok: ok == 1, code: code, values: values[2:]}, nil
}

func (r *scriptReply) str(i int) string {
	if i >= len(r.values) {
		return ""
	}
	s, _ := toString(r.values[i])
	return s
}

func (r *scriptReply) int(i int) int64 {
	if i >= len(r.values) {
		return 0
	}
	n, _ := toInt64(r.values[i])
	return n
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case int64:
		return strconv.FormatInt(val, 10), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(val), true
	}
}
