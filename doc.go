// Package bnms runs a business network membership node.
//
// A node holds the memberships, groups and change requests of the business
// networks it takes part in and changes them only through transactions that
// every affected party validates and signs. Transactions are committed by a
// notary, which guarantees that each state version is consumed at most once.
//
// New wires the flow engine to a libp2p host: flows between parties run on
// one protocol and commits to the notary on another. A node either serves
// the notary itself or commits through a remote one.
package bnms
