package sqlinline

const QInsertHistory = `--sql 5f0b7beb-4bdf-4686-b1bf-28ecc2cf0ed4
insert into enhancement_history(
  id,
  account_id,
  batch_id,
  job_id,
  model,
  resolution,
  credits,
  status,
  result_ref,
  error_ref,
  metadata,
  created_at,
  updated_at
) values (
  gen_random_uuid(),
  $1::text,
  $2::uuid,
  $3::uuid,
  $4::text,
  $5::text,
  $6::bigint,
  $7::text,
  '',
  '',
  $8::jsonb,
  now(),
  now()
) returning id::text;
`

const QUpdateHistoryStatus = `--sql 5e90c41f-ff64-47e2-b271-e6d32e33f44d
update enhancement_history
set status = $2::text,
    result_ref = $3::text,
    error_ref = $4::text,
    updated_at = now()
where id = $1::uuid;
`

const QSelectHistoryByID = `--sql 92bf8ffa-d586-4278-82e9-3fc9e97f4c5c
select id::text, account_id, batch_id::text, job_id::text, model, resolution, credits, status, result_ref, error_ref, metadata, created_at, updated_at
from enhancement_history
where id = $1::uuid
limit 1;
`

const QListHistoryByAccount = `--sql c60a30d1-bca4-47d2-9c6a-3c6629abdf23
select id::text, account_id, batch_id::text, job_id::text, model, resolution, credits, status, result_ref, error_ref, metadata, created_at, updated_at
from enhancement_history
where account_id = $1::text
order by created_at desc, id
limit $2::int;
`
