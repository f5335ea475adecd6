package contract

// Rejection reasons. They are returned verbatim by every node evaluating a
// transaction, so callers and tests may match on them.
const (
	ReasonUnknownCommand       = "Unknown command"
	ReasonSignersMismatch      = "Transaction signers must match the command's required signers"
	ReasonSignerNotParticipant = "Required signers must be participants of the output state"
	ReasonNoRequiredSigners    = "Command must declare at least one required signer"

	ReasonWrongContract   = "States must belong to the contract of the command"
	ReasonWrongStateType  = "States must be of the type validated by the contract"
	ReasonMalformedState  = "Transaction state must hold exactly one state"
	ReasonTooManyInputs   = "Transaction must have at most one input state"
	ReasonTooManyOutputs  = "Transaction must have at most one output state"
	ReasonNoInputExpected = "Command must not consume an input state"
	ReasonInputExpected   = "Command must consume an input state"
	ReasonNoOutputExpect  = "Command must not create an output state"
	ReasonOutputExpected  = "Command must create an output state"

	ReasonIssuedAfterModified  = "Issued timestamp must not be after modified timestamp"
	ReasonModifiedDecreased    = "Modified timestamp must not decrease"
	ReasonIssuedChanged        = "Issued timestamp must not change"
	ReasonLinearIDChanged      = "Linear id must not change"
	ReasonNetworkIDChanged     = "Network id must not change"
	ReasonIssuerChanged        = "Issuer must not change"
	ReasonMembershipIDChanged  = "Referenced membership must not change"
	ReasonTooManyReferences    = "Transaction must have at most one reference state"
	ReasonReferenceNotMember   = "Reference state must be a membership"
	ReasonReferenceRequired    = "Command requires the initiator's membership as reference state"
	ReasonReferenceWrongNet    = "Reference membership must belong to the same network"
	ReasonReferenceNotActive   = "Reference membership must be active"
	ReasonMissingPermission    = "Initiator does not hold the permission required by the command"
	ReasonInitiatorNotParty    = "Initiator must be a participant of the modified state"
	ReasonInitiatorNotSigner   = "Initiator must be a required signer"
	ReasonEmptyNetworkID       = "Network id must not be empty"
	ReasonEmptyHolder          = "Membership holder must not be empty"
	ReasonDuplicateParticipant = "Participants must be unique"

	ReasonBootstrapOutputs      = "Bootstrap must create exactly one membership and one group"
	ReasonBootstrapNotActive    = "Bootstrap membership must be active"
	ReasonBootstrapRoles        = "Bootstrap membership must hold exactly the admin role"
	ReasonBootstrapIssuer       = "Bootstrap membership must be issued by its holder"
	ReasonBootstrapParticipants = "Bootstrap states must only have the holder as participant"
	ReasonBootstrapGroup        = "Bootstrap group must be issued by the holder in the same network"
	ReasonBootstrapSigners      = "Bootstrap must only be signed by the holder"
	ReasonBootstrapReferences   = "Bootstrap must not carry reference states"

	ReasonNotPending          = "Membership must be pending"
	ReasonAlreadyActive       = "Input membership must not be active"
	ReasonNotActive           = "Output membership must be active"
	ReasonAlreadySuspended    = "Input membership must not be suspended"
	ReasonNotSuspended        = "Output membership must be suspended"
	ReasonRolesNotEmpty       = "New membership must not hold roles"
	ReasonRolesChanged        = "Roles must not change"
	ReasonRolesUnchanged      = "Roles must change"
	ReasonIdentityChanged     = "Identity must not change"
	ReasonNetworkIdentityKept = "Network identity key or participants must change"
	ReasonDisplayNameChanged  = "Identity display name must not change"
	ReasonBusinessIDChanged   = "Business identity must not change"
	ReasonBusinessIDUnchanged = "Business identity must change"
	ReasonParticipantsChanged = "Participants must not change"
	ReasonStatusChanged       = "Status must not change"
	ReasonStatusNotModifiable = "Membership must be active or suspended"
	ReasonSelfIssued          = "Requested membership must be issued by its holder"
	ReasonOnboardIssuer       = "Onboarded membership must be issued by the initiator"
	ReasonHolderMustSign      = "Membership holder must be a required signer"
	ReasonHolderMustNotSign   = "Membership holder must not be a required signer"
	ReasonHolderSignerIff     = "Membership holder must be a required signer if and only if it is the initiator"
	ReasonRevokeSelf          = "Initiator must not revoke its own membership"

	ReasonGroupUnchanged = "Group name or participants must change"

	ReasonRequestNotPending   = "Change request must be pending"
	ReasonRequestNotApproved  = "Change request must be approved"
	ReasonRequestNotDeclined  = "Change request must be declined"
	ReasonRequestEmpty        = "Change request must propose at least one change"
	ReasonRequestProposalEdit = "Proposed changes must not change"
)
