package sqlinline

const imageColumns = `id::text, owner_id::text, coalesce(task_id, ''), prompt, status, coalesce(image_reference, ''), reference_inputs, coalesce(error_detail, ''), created_at, completed_at`

const QInsertGeneratedImage = `--sql 540ee192-9d7b-4273-962c-33564725fccd
insert into generated_images(id, owner_id, task_id, prompt, status, reference_inputs, created_at)
values ($1::uuid, $2::uuid, nullif($3, ''), $4, $5, $6::text[], $7);
`

const QSelectImageByTask = `--sql 3d1a7a3e-9ee2-4831-b649-b7ba294ac9a7
select ` + imageColumns + `
from generated_images
where task_id = $1;
`

const QListImagesByOwner = `--sql 8954e2b7-90f9-4ac4-93ec-c8a0c3f44f07
select ` + imageColumns + `
from generated_images
where owner_id = $1::uuid
order by created_at desc
limit $2;
`

const QMarkImageCompleted = `--sql bf1552f2-313b-429b-bf4f-af78338a92aa
update generated_images
set status = 'completed', image_reference = $2, error_detail = null, completed_at = $3
where task_id = $1
  and status = 'pending';
`

const QMarkImageFailed = `--sql 9fcb400e-9cee-4731-86d4-9668ff993b06
update generated_images
set status = 'failed', error_detail = $2, completed_at = $3
where task_id = $1
  and status = 'pending';
`
