package mediator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffSelfServiceRestrictsPrivilegedBits(t *testing.T) {
	old := DefaultACL
	requested := old | ACLAccessAllConnections // self trying to grant itself admin

	allowed, denied := Diff(old, requested, DefaultSelfManageable, false)

	require.False(t, allowed.Has(ACLAccessAllConnections), "self-service request was allowed to set ACLAccessAllConnections")
	require.Len(t, denied, 1)
	require.Equal(t, ACLAccessAllConnections, denied[0].Flag)
	require.True(t, denied[0].Adding)
}

func TestDiffSelfServiceAllowsSelfManageableBits(t *testing.T) {
	old := DefaultACL
	requested := old &^ ACLSendMessages // turning off a self-manageable bit

	allowed, denied := Diff(old, requested, DefaultSelfManageable, false)

	require.False(t, allowed.Has(ACLSendMessages), "ACLSendMessages should have been cleared")
	require.Empty(t, denied)
}

func TestDiffAdministratorBypassesRestriction(t *testing.T) {
	old := DefaultACL
	requested := old | ACLAccessAllConnections

	allowed, denied := Diff(old, requested, DefaultSelfManageable, true)

	require.True(t, allowed.Has(ACLAccessAllConnections), "administrator request should have been allowed in full")
	require.Empty(t, denied)
}

// TestDiffSelfManageableIsPerAccount is Testable Property 6: one account
// can be granted self-management of a bit the DefaultSelfManageable mask
// denies everyone else, and that grant is honored only for that account.
func TestDiffSelfManageableIsPerAccount(t *testing.T) {
	old := DefaultACL &^ ACLCreateInvites
	requested := old | ACLCreateInvites

	grantedMask := DefaultSelfManageable | ACLCreateInvites
	allowed, denied := Diff(old, requested, grantedMask, false)
	require.True(t, allowed.Has(ACLCreateInvites), "account granted self-management of create_invites should be able to set it")
	require.Empty(t, denied)

	allowed, denied = Diff(old, requested, DefaultSelfManageable, false)
	require.False(t, allowed.Has(ACLCreateInvites), "an account without the grant must not be able to set create_invites")
	require.Len(t, denied, 1)
	require.Equal(t, ACLCreateInvites, denied[0].Flag)
}

// TestDiffNeverAllowsSelfMutatingSelfManageability is spec §4.F: mutating
// a self_manageable bit is always administrator-only, even when the bit
// that would be touched (ACLSelfChange itself) is nominally requested by
// the account it governs.
func TestDiffNeverAllowsSelfMutatingSelfManageability(t *testing.T) {
	old := DefaultACL
	requested := old &^ ACLSelfChange

	allowed, denied := Diff(old, requested, DefaultSelfManageable|ACLSelfChange, false)
	require.True(t, allowed.Has(ACLSelfChange), "ACLSelfChange must remain administrator-only to flip, regardless of the self-manageable mask")
	require.Len(t, denied, 1)
	require.Equal(t, ACLSelfChange, denied[0].Flag)
}

func TestAuthenticationCheck(t *testing.T) {
	require.False(t, AuthenticationCheck(0), "empty ACL should fail authentication_check")
	require.True(t, AuthenticationCheck(ACLSendMessages), "ACLSendMessages alone should pass authentication_check")
	require.False(t, AuthenticationCheck(ACLSendMessages|ACLBlocked), "a blocked account must fail authentication_check regardless of other bits")
}

func TestAccessListExplicitAllowAndDeny(t *testing.T) {
	list := AccessList{"did:example:carol": true}

	require.True(t, list.Permits("did:example:carol", false), "explicit-allow: carol is listed, so permitted")
	require.False(t, list.Permits("did:example:dave", false), "explicit-allow: dave is not listed, so denied")

	require.False(t, list.Permits("did:example:carol", true), "explicit-deny: carol is listed, so denied")
	require.True(t, list.Permits("did:example:dave", true), "explicit-deny: dave is not listed, so permitted")
}
