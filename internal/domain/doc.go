/*
Package domain contains the value types and collaborator interfaces shared by
the dispatcher engine, the registrar and the outer surfaces.

Dispatcher side:

A destination set groups equivalent upstream SIP targets under an integer
group id. Each destination carries a bitset of health flags:

	FlagInactive  confirmed down, never selected
	FlagTrying    suspected down, still selected, counting failures
	FlagDisabled  administrative override, never selected or probed
	FlagProbing   health-checked by the probing scheduler

Selection requests name a group, an algorithm (numbered as in the classic
dispatcher list format, 0 through 13) and the keys the algorithm hashes.

Registrar side:

Contact describes one binding of an address of record. ContactRequest is the
parsed view of one Contact header of a REGISTER, and SaveRequest groups them
with the request level fields (Call-ID, CSeq, Expires header).

External collaborators are expressed as interfaces: Prober (sends a health
probe and reports the reply code), EventHandler (receives routability
transitions), Resolver (DNS as a black box) and Metrics.
*/
package domain
