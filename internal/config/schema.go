package config

// definitionSchema is the JSON schema rekey.yaml is validated against after
// YAML decoding.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "enum": [0]},
    "env_file": {"type": "string", "minLength": 1},
    "state_dir": {"type": "string", "minLength": 1},
    "keys": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "password": {"$ref": "#/definitions/envKey"},
        "signing_secret": {"$ref": "#/definitions/envKey"},
        "encryption_key": {"$ref": "#/definitions/envKey"},
        "anon_token": {"$ref": "#/definitions/envKey"},
        "service_token": {"$ref": "#/definitions/envKey"}
      }
    },
    "tokens": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "issuer": {"type": "string", "minLength": 1}
      }
    },
    "database": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "host": {"type": "string", "minLength": 1},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "name": {"type": "string", "minLength": 1},
        "user": {"type": "string", "minLength": 1},
        "sslmode": {"type": "string", "enum": ["disable", "allow", "prefer", "require", "verify-ca", "verify-full"]},
        "timeout_ms": {"type": "integer", "minimum": 1000, "maximum": 120000},
        "roles": {
          "type": "array",
          "items": {"type": "string", "minLength": 1},
          "minItems": 5,
          "maxItems": 5,
          "uniqueItems": true
        },
        "setting": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*(\\.[A-Za-z_][A-Za-z0-9_]*)+$"},
        "data_dir": {"type": "string"},
        "service": {"type": "string"}
      }
    },
    "encrypted_subsystem": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "table": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*(\\.[A-Za-z_][A-Za-z0-9_]*)?$"}
      }
    },
    "services": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "command": {"type": "array", "items": {"type": "string"}, "minItems": 1},
        "compose_file": {"type": "string"},
        "project": {"type": "string"},
        "timeout_ms": {"type": "integer", "minimum": 1000},
        "restart": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "password": {"$ref": "#/definitions/serviceList"},
            "signing_secret": {"$ref": "#/definitions/serviceList"},
            "encryption_key": {"$ref": "#/definitions/serviceList"}
          }
        }
      }
    },
    "backup": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "command": {"type": "array", "items": {"type": "string"}},
        "timeout_ms": {"type": "integer", "minimum": 1000}
      }
    },
    "notify": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "deployment": {"type": "string"},
        "webhooks": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["url"],
            "properties": {
              "name": {"type": "string"},
              "url": {"type": "string", "minLength": 1},
              "method": {"type": "string", "enum": ["POST", "PUT", "PATCH"]},
              "headers": {"type": "object", "additionalProperties": {"type": "string"}},
              "events": {"$ref": "#/definitions/eventList"},
              "timeout_ms": {"type": "integer", "minimum": 100, "maximum": 120000},
              "retry": {
                "type": "object",
                "additionalProperties": false,
                "properties": {
                  "max_attempts": {"type": "integer", "minimum": 1, "maximum": 10},
                  "backoff": {"type": "string", "enum": ["fixed", "linear", "exponential"]}
                }
              }
            }
          }
        },
        "slack": {
          "type": "object",
          "additionalProperties": false,
          "required": ["webhook_url"],
          "properties": {
            "webhook_url": {"type": "string", "minLength": 1},
            "channel": {"type": "string"},
            "events": {"$ref": "#/definitions/eventList"},
            "mentions": {"type": "array", "items": {"type": "string"}}
          }
        }
      }
    }
  },
  "definitions": {
    "eventList": {
      "type": "array",
      "items": {"type": "string", "enum": ["rotation_completed", "rotation_partial", "rotation_failed", "drift_detected"]}
    },
    "envKey": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
    "serviceList": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`
