// Package mediator implements the server-side message plane: accounts,
// sessions, ACLs, the message store and pickup protocol, forwarding,
// live-streaming, and the admin protocol (spec §4, components E–L).
package mediator

import "fmt"

// ACL is a bitset of per-account flags, per spec §4.F. Which bits a given
// account may flip on itself is NOT fixed across all accounts — it is a
// second ACL value carried per-account (Account.SelfManageable), since an
// administrator can grant one account self-management of a bit while
// denying it to another (Testable Property 6).
type ACL uint32

const (
	ACLBlocked              ACL = 1 << iota // account is blocked outright, overrides every other bit
	ACLLocalDirect                          // receives messages without forwarding ("local" in spec §4.F)
	ACLSendMessages                         // may send messages through this mediator
	ACLReceiveMessages                      // may pick up queued messages
	ACLSendForwarded                        // may appear as the sender in another account's forward chain
	ACLReceiveForwarded                     // may be the "next" of an incoming forward
	ACLCreateInvites                        // may mint out-of-band invitations
	ACLAnonReceive                          // may receive a forward whose sender is anonymous
	ACLSelfManageList                       // may list/remove its own queued messages
	ACLSelfManageSendLimit                  // may adjust its own send queue soft-limit
	ACLSelfManageRecvLimit                  // may adjust its own receive queue soft-limit
	ACLAccessListMode                       // 0 = explicit-allow, 1 = explicit-deny (spec §3 "Access-List")
	ACLAccessAllConnections                 // administrator-only: manage all accounts
	ACLSelfChange                           // administrator-only: Diff never lets an account flip it on itself; Diff does not read it as a gate
)

// DefaultACL is applied to a newly-provisioned account absent an explicit
// administrator-set value (spec §6 "global ACL default"). ACLAccessListMode
// is set (explicit-deny) so an empty access-list permits every peer until
// an administrator or the account itself (if granted) starts blocklisting.
const DefaultACL ACL = ACLLocalDirect | ACLSendMessages | ACLReceiveMessages | ACLSendForwarded | ACLReceiveForwarded | ACLAccessListMode | ACLSelfChange | ACLSelfManageList

// DefaultSelfManageable is the self-manageable mask a newly-provisioned
// account gets absent an administrator override: it may flip its own
// send/receive rights, its queue-limit self-management, and its own
// access-list set-membership, but never ACLSelfChange, ACLSelfManageList's
// sibling administrator-only bits, or ACLAccessAllConnections.
const DefaultSelfManageable ACL = ACLSendMessages | ACLReceiveMessages | ACLSelfManageList | ACLSelfManageSendLimit | ACLSelfManageRecvLimit

// Has reports whether every bit in flags is set.
func (a ACL) Has(flags ACL) bool { return a&flags == flags }

// Any reports whether at least one bit in flags is set.
func (a ACL) Any(flags ACL) bool { return a&flags != 0 }

// AccessListDeny reports whether this account's access-list operates in
// explicit-deny mode (ACLAccessListMode set) rather than explicit-allow.
func (a ACL) AccessListDeny() bool { return a.Has(ACLAccessListMode) }

// DeniedTransition is one bit flip an account was not permitted to make,
// returned by Diff so the admin protocol can report exactly why a
// set-ACL request was rejected (Testable Property 6).
type DeniedTransition struct {
	Flag   ACL
	Adding bool
}

func (d DeniedTransition) String() string {
	verb := "set"
	if !d.Adding {
		verb = "clear"
	}
	return fmt.Sprintf("not permitted to %s flag %#x", verb, uint32(d.Flag))
}

// Diff compares old and requested against this account's own
// self-manageable mask, and reports every bit flip the account was not
// permitted to make. A non-admin request may only touch bits within
// selfManageable, and may never touch ACLSelfChange or
// ACLAccessAllConnections themselves — mutating self-manageability is
// always administrator-only, per spec §4.F ("attempts to mutate any
// self_manageable bit itself must always be rejected").
func Diff(old, requested, selfManageable ACL, isAdmin bool) (allowed ACL, denied []DeniedTransition) {
	if isAdmin {
		return requested, nil
	}
	const alwaysAdminOnly = ACLSelfChange | ACLAccessAllConnections
	changed := old ^ requested
	restricted := (changed &^ selfManageable) | (changed & alwaysAdminOnly)
	for bit := ACL(1); bit != 0; bit <<= 1 {
		if restricted&bit == 0 {
			continue
		}
		denied = append(denied, DeniedTransition{Flag: bit, Adding: requested&bit != 0})
	}
	allowed = (old & restricted) | (requested &^ restricted)
	return allowed, denied
}

// AuthenticationCheck reports whether acl permits the account behind it
// to complete the DID-authentication handshake at all (spec §4.E step 5
// "authentication_check"): a blocked account is always refused; otherwise
// an account with neither send nor receive rights, and not an
// administrator, is provisioned but inert.
func AuthenticationCheck(acl ACL) bool {
	if acl.Has(ACLBlocked) {
		return false
	}
	return acl.Any(ACLSendMessages | ACLReceiveMessages | ACLAccessAllConnections)
}

// AccessList is a per-account set of peer DIDs, interpreted under the
// account's ACLAccessListMode (spec §3 "Access-List"): in explicit-allow
// mode only listed peers are admitted; in explicit-deny mode every peer
// except those listed is admitted.
type AccessList map[string]bool

// Permits reports whether peer is admitted under mode (deny=true means
// explicit-deny), given this access-list's membership.
func (l AccessList) Permits(peer string, deny bool) bool {
	if deny {
		return !l[peer]
	}
	return l[peer]
}
