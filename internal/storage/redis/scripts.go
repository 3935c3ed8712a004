package redis

const (
	// mergeUsageScript atomically creates or adds to a daily usage record
	mergeUsageScript = `
local usage_key = KEYS[1]       -- scrollguard:usage:{date}:{identity}
local date_index = KEYS[2]      -- scrollguard:usage:index:date:{date}
local identity_index = KEYS[3]  -- scrollguard:usage:index:identity:{identity}

local identity = ARGV[1]
local date = ARGV[2]
local scroll_count = tonumber(ARGV[3])
local time_spent = tonumber(ARGV[4])
local app_open_count = tonumber(ARGV[5])
local scrolls_blocked = tonumber(ARGV[6])
local updated_at = ARGV[7]

if redis.call('EXISTS', usage_key) == 0 then
  -- First session of the day: store values verbatim
  redis.call('HSET', usage_key,
    'identity', identity,
    'date', date,
    'scroll_count', scroll_count,
    'time_spent_seconds', time_spent,
    'app_open_count', app_open_count,
    'scrolls_blocked', scrolls_blocked,
    'updated_at', updated_at
  )
  redis.call('SADD', date_index, identity)
  redis.call('SADD', identity_index, date)
else
  -- Field-wise addition, never overwrite
  redis.call('HINCRBY', usage_key, 'scroll_count', scroll_count)
  redis.call('HINCRBY', usage_key, 'time_spent_seconds', time_spent)
  redis.call('HINCRBY', usage_key, 'app_open_count', app_open_count)
  redis.call('HINCRBY', usage_key, 'scrolls_blocked', scrolls_blocked)
  redis.call('HSET', usage_key, 'updated_at', updated_at)
end

return 'OK'
`
)
