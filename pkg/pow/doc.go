/*
Package pow mines the proof-of-work challenges gating expensive verbs.

A solution is a uint64 nonce such that SHA-256(challenge || nonce_be)
has at least the requested number of leading zero bits. The miner
yields briefly every 10000 nonces so the event loop stays responsive,
honors cancellation, and gives up after ten minutes with ErrPowTimeout.
A short calibration run before each solve gives the server an honest
hashrate observation for difficulty feedback.
*/
package pow
