// Package identity holds account identity primitives: username and email
// canonicalization plus the validation rules accounts are created with.
//
// Credential issuance lives outside this service; identity only decides what a
// well-formed account handle looks like.
package identity
