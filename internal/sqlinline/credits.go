package sqlinline

const QSelectCreditBalance = `--sql 03f50f0b-a2e6-486c-89af-0583bf4153e0
select balance
from credit_accounts
where account_id = $1::text
limit 1;
`

// QDebitCredits removes credits only when the balance covers them and logs
// the ledger entry in the same statement. new_balance is null on rejection;
// current_balance is the balance the statement observed.
const QDebitCredits = `--sql 9268afd8-5ac4-4a23-980f-9c122b80cd69
with upd as (
  update credit_accounts
  set balance = balance - $2::bigint,
      updated_at = now()
  where account_id = $1::text
    and balance >= $2::bigint
  returning balance
), ins as (
  insert into credit_ledger(id, account_id, amount, entry_type, description, balance_after, created_at)
  select gen_random_uuid(), $1::text, -$2::bigint, $3::text, $4::text, upd.balance, now()
  from upd
  returning id
)
select
  (select balance from upd) as new_balance,
  coalesce((select balance from credit_accounts where account_id = $1::text), 0) as current_balance;
`

const QRefundCredits = `--sql 5f5e7ac1-33e9-40ee-adb4-9591d3243858
with upd as (
  update credit_accounts
  set balance = balance + $2::bigint,
      updated_at = now()
  where account_id = $1::text
  returning balance
), ins as (
  insert into credit_ledger(id, account_id, amount, entry_type, description, balance_after, created_at)
  select gen_random_uuid(), $1::text, $2::bigint, 'refund', $3::text, upd.balance, now()
  from upd
  returning id
)
select balance from upd;
`

const QGrantCredits = `--sql 16ff5529-7a6a-4c7c-a6a1-b6e1d14f1ca5
with upd as (
  insert into credit_accounts(account_id, balance, created_at, updated_at)
  values ($1::text, $2::bigint, now(), now())
  on conflict (account_id) do update
    set balance = credit_accounts.balance + excluded.balance,
        updated_at = now()
  returning balance
), ins as (
  insert into credit_ledger(id, account_id, amount, entry_type, description, balance_after, created_at)
  select gen_random_uuid(), $1::text, $2::bigint, 'grant', $3::text, upd.balance, now()
  from upd
  returning id
)
select balance from upd;
`

const QListLedgerEntries = `--sql 3284dcd2-7420-40ca-89ba-470ea81514f9
select id::text, account_id, amount, entry_type, description, created_at
from credit_ledger
where account_id = $1::text
order by created_at desc, id
limit $2::int;
`
