package chain

// Method surfaces of the two deployed contracts. Only the methods the
// service calls are declared.

const registryAbiJson = `[
	{
		"name": "registerDocument",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "hash", "type": "bytes32"},
			{"name": "cid", "type": "string"},
			{"name": "owner", "type": "address"},
			{"name": "metaJson", "type": "string"}
		],
		"outputs": []
	},
	{
		"name": "getDocument",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "hash", "type": "bytes32"}],
		"outputs": [
			{"name": "issuer", "type": "address"},
			{"name": "owner", "type": "address"},
			{"name": "cid", "type": "string"},
			{"name": "issuedAt", "type": "uint256"},
			{"name": "isActive", "type": "bool"}
		]
	},
	{
		"name": "transferOwnership",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "hash", "type": "bytes32"},
			{"name": "newOwner", "type": "address"}
		],
		"outputs": []
	},
	{
		"name": "grantAccess",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "hash", "type": "bytes32"},
			{"name": "viewer", "type": "address"}
		],
		"outputs": []
	},
	{
		"name": "revokeAccess",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "hash", "type": "bytes32"},
			{"name": "viewer", "type": "address"}
		],
		"outputs": []
	}
]`

const accessControlAbiJson = `[
	{
		"name": "assignRole",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "role", "type": "uint8"}
		],
		"outputs": []
	},
	{
		"name": "getUserRole",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "user", "type": "address"}],
		"outputs": [{"name": "role", "type": "uint8"}]
	}
]`
