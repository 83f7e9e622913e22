// Package commands implements the netsrp command line.
//
// Commands:
//
//	netsrp verifier --username NAME --password PASS [--key-size BITS]
//	netsrp selftest [--config FILE] [--username NAME] [--password PASS]
package commands
