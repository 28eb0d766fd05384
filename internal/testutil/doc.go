// Package testutil provides test doubles shared by the gateway packages: a
// mock ledger backend and a mock upstream node.
package testutil
