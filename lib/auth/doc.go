// Package auth implements the password scheme of the credential store:
// passwords are reduced to base64(sha256(password)) and that digest is
// hashed with bcrypt. Login commands only ever carry the digest.
package auth
