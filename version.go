package identitybroker

const VERSION = "v0.4.0"
