package sqlinline

const QInsertUsageEvent = `--sql 85122f14-be5e-4af6-8511-f695881b2e8f
insert into usage_events(id, user_id, task_id, event_type, success, created_at, properties)
values (gen_random_uuid(), nullif($1, '')::uuid, nullif($2, ''), $3::text, $4::boolean, now(), coalesce($5::jsonb, '{}'::jsonb));
`
