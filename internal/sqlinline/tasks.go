package sqlinline

// Task columns scanned by scanTask in the repository, in order.
const taskColumns = `task_id, owner_id::text, kind, status, prompt, model, aspect_ratio, reference_inputs, result_references, coalesce(error_detail, ''), cost, coalesce(claim_token, ''), claimed_at, materialize_attempts, coalesce(storage_error, ''), created_at, updated_at, completed_at`

const QInsertTask = `--sql 22ede5f5-895b-46a9-86be-4869502dc056
insert into generation_tasks(task_id, owner_id, kind, status, prompt, model, aspect_ratio, reference_inputs, cost, created_at, updated_at)
values ($1, $2::uuid, $3, $4, $5, $6, $7, $8::text[], $9, $10, $10);
`

const QSelectTask = `--sql a4e0bacc-b9ac-4514-a6b8-698d0bb5fc63
select ` + taskColumns + `
from generation_tasks
where task_id = $1;
`

const QListTasksByOwner = `--sql 071bc074-b4d0-4500-833f-50699519d6ee
select ` + taskColumns + `
from generation_tasks
where owner_id = $1::uuid
order by created_at desc
limit $2;
`

const QListUnresolvedTasks = `--sql 481c8352-4a64-47a3-8be6-c5f524314d56
select ` + taskColumns + `
from generation_tasks
where status in ('pending', 'processing')
  and created_at < $1
order by created_at asc
limit $2;
`

const QMarkTaskProcessing = `--sql edb73f16-ecff-414e-badc-347a607cd4c3
update generation_tasks
set status = 'processing', updated_at = $2
where task_id = $1
  and status = 'pending';
`

const QClaimTask = `--sql cc280f49-afec-45c0-95ac-ffc2d155104b
update generation_tasks
set claim_token = $2, claimed_at = $3, updated_at = $3
where task_id = $1
  and status in ('pending', 'processing')
  and (claim_token is null or claimed_at < $4);
`

const QCompleteTask = `--sql a3459572-738e-4dc4-a243-ff71ade7422b
update generation_tasks
set status = 'completed',
    result_references = $3::text[],
    error_detail = null,
    claim_token = null,
    claimed_at = null,
    completed_at = $4,
    updated_at = $4
where task_id = $1
  and status in ('pending', 'processing')
  and claim_token = $2;
`

const QReleaseTaskClaim = `--sql 572d09f0-db37-4b4f-9cf3-5a93309c520a
update generation_tasks
set claim_token = null,
    claimed_at = null,
    materialize_attempts = materialize_attempts + 1,
    storage_error = $3,
    updated_at = $4
where task_id = $1
  and claim_token = $2
returning materialize_attempts;
`

const QFailTask = `--sql dc5653f3-8920-4bc6-aad1-a3ba3f97c6dd
update generation_tasks
set status = 'failed',
    error_detail = $3,
    claim_token = null,
    claimed_at = null,
    completed_at = $4,
    updated_at = $4
where task_id = $1
  and status in ('pending', 'processing')
  and (claim_token is null or claim_token = $2 or claimed_at < $5);
`
