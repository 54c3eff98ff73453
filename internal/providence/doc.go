/*
Providence maintains a population of virtual trading runs and executes one
stateless iteration per run per cycle.

# Module
  - supervisor: tops the active population up to the target with sampled parameters
  - scheduler: submits one jittered iteration task per active run each cycle
  - iteration: replays the run ledger, marks to market, applies the entropy signal and risk decision, persists
  - height: stamps every active run with a new epoch height in one transaction
  - purge: deletes runs exited longer than the grace period
  - controller: turns ticks into high-lane tasks on the router

# Source
 1. run state from the store, cached with a TTL
 2. closing prices from market data
 3. take-profit signals from the message bus

# Produce
  - run exposure columns read by reconciliation
*/
package providence
