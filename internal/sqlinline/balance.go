package sqlinline

const QSelectStarBalance = `--sql 3999eb96-971c-44e7-8b51-a23be9486fba
select star_balance
from users
where id = $1::uuid;
`

// QDebitStars records one debit per task and decrements the balance only when
// the debit row is new and the balance covers it. Returns (inserted, balance)
// where balance is null if nothing was decremented.
const QDebitStars = `--sql bf25d370-4594-4d93-831f-0be70c1643ad
with ins as (
    insert into balance_debits(task_id, user_id, amount, created_at)
    values ($2, $1::uuid, $3, now())
    on conflict (task_id) do nothing
    returning task_id
),
upd as (
    update users
    set star_balance = star_balance - $3, updated_at = now()
    where id = $1::uuid
      and star_balance >= $3
      and exists (select 1 from ins)
    returning star_balance
)
select exists (select 1 from ins), (select star_balance from upd);
`

const QCreditStars = `--sql c512bf63-24cf-4354-b48e-4a09ec544aae
update users
set star_balance = star_balance + $2, updated_at = now()
where id = $1::uuid
returning star_balance;
`
