package libzerocoin

import (
	"math/big"

	"github.com/tessacoin/tessanode/errors"
)

const (
	// MinPrimeRounds is the smallest Miller-Rabin iteration count accepted for
	// pubcoin primality checks.
	MinPrimeRounds = 30

	// MaxCoinMintAttempts bounds the search for a prime commitment.
	MaxCoinMintAttempts = 10000

	// AccumulatorBase is the initial value of every accumulator.
	AccumulatorBase = 961

	// ZKPSecurityLevel is the statistical zero-knowledge slack in bits added
	// to every blinding value.
	ZKPSecurityLevel = 80

	// ChallengeBits is the size of a Fiat-Shamir challenge.
	ChallengeBits = 256

	// SerialSoKRounds is the number of cut-and-choose rounds of the serial
	// number signature of knowledge.
	SerialSoKRounds = 80
)

// IntegerGroup is a prime order subgroup of Z*_Modulus generated by G and H.
type IntegerGroup struct {
	Modulus *big.Int
	Order   *big.Int
	G       *big.Int
	H       *big.Int
}

// Params holds the zerocoin group parameters.
//
// A coin is a commitment C = G^serial * H^r in the order Q subgroup of Z*_P.
// Accumulators live in the RSA group modulo N, with AccG and AccH generating
// quadratic residues for the membership proof. The serial signature of
// knowledge commits to C in SerialGroup, whose order is P, and the
// accumulator proof commits to C in AccPoKGroup.
type Params struct {
	P *big.Int
	Q *big.Int
	G *big.Int
	H *big.Int
	N *big.Int

	AccG *big.Int
	AccH *big.Int

	SerialGroup IntegerGroup
	AccPoKGroup IntegerGroup

	// MinCoinValue and MaxCoinValue bound a valid pubcoin.
	MinCoinValue *big.Int
	MaxCoinValue *big.Int

	// PrimeRounds is the Miller-Rabin iteration count used to decide whether
	// a commitment is a valid pubcoin. It is consensus critical.
	PrimeRounds int
}

type groups struct {
	coinModulus   string
	coinOrder     string
	coinG         string
	coinH         string
	accModulus    string
	serialModulus string
	serialG       string
	serialH       string
	pokOrder      string
	pokModulus    string
	pokG          string
	pokH          string
}

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("invalid zerocoin parameter " + s)
	}

	return n
}

func newParams(g groups, primeRounds int) *Params {
	params := &Params{
		P:           mustHex(g.coinModulus),
		Q:           mustHex(g.coinOrder),
		G:           mustHex(g.coinG),
		H:           mustHex(g.coinH),
		N:           mustHex(g.accModulus),
		PrimeRounds: primeRounds,
	}

	params.SerialGroup = IntegerGroup{
		Modulus: mustHex(g.serialModulus),
		Order:   params.P,
		G:       mustHex(g.serialG),
		H:       mustHex(g.serialH),
	}

	params.AccPoKGroup = IntegerGroup{
		Modulus: mustHex(g.pokModulus),
		Order:   mustHex(g.pokOrder),
		G:       mustHex(g.pokG),
		H:       mustHex(g.pokH),
	}

	params.AccG = quadraticResidue(params.N, "accumulator g")
	params.AccH = quadraticResidue(params.N, "accumulator h")

	params.MinCoinValue = new(big.Int).Lsh(big.NewInt(1), uint(params.P.BitLen()-8))
	params.MaxCoinValue = new(big.Int).Sub(params.P, big.NewInt(1))

	return params
}

// quadraticResidue derives a nothing-up-my-sleeve quadratic residue modulo n.
func quadraticResidue(n *big.Int, label string) *big.Int {
	x := expandHash(n.BitLen()+ChallengeBits, n.Bytes(), []byte(label))
	x.Mod(x, n)

	return x.Exp(x, big.NewInt(2), n)
}

// MainnetParams returns the 1024-bit commitment and 2048-bit accumulator
// parameters used on mainnet and testnet.
func MainnetParams(primeRounds int) *Params {
	return newParams(
		groups{
			coinModulus: "f319fc0de77d9692ac3f295cca544eb7d0879241f8d18d2d387f657c698cff35" +
				"7f6dd6e57ad94deb4e1a8dbf936e6665a9caad492d9c8df032c557dca8892f3e" +
				"c1b2f871e713b1fb21b861a4278c6a9017cd57eaf63f39a429388a4912a26a27" +
				"32fc45e0986fa9ebcfeeadc1a472714363c4a67ace417efd7ea32574673bc9b9",
			coinOrder: "c9c261dce10222e5494669231b2893d53c5d2afa642b9dea1b8ec18436bc09d3",
			coinG: "2cace29f98c85a1c488842735cbd55758758c2aeee41d420aab5c70e51dc3f2c" +
				"ac508800d02cf7057e5877206ce1deab12698b62ef5fdade3e3eb1deec36edb3" +
				"410f8d77eec549b5e5f3415d665238a523b170f206ed65a9186f57e2d1a6b6b7" +
				"4e69b98521d1769a753d3a3161b57c8cc15022e2b83283cba96e6452193619d2",
			coinH: "b1c3f5d0607ab7f2c0427d18d1b2382ec9469958429e6dd5c5afa9207f3d1680" +
				"24c5a14f773225be06585b5b55b48008fff1078d86e3eb8c7950d23142bebb4c" +
				"9f5f434968e1e42ea7be197bb193cd0bf17d850ca76dba624e499f87163cb98e" +
				"6f0e5e4f6ba63f5e14fddd3fc33d268df232bd677f3ff0dc17d59a52025c4d59",
			accModulus: "87150915c4d22b1f8c764ace46f3257d884d4a36d4a1da2a4ed6b13874d35ffe" +
				"e960b9ca3a2957ab9438e2748d59b398c86cfdfba1aad0eba4946f77f7f94620" +
				"f75c25c32d3718eca32f9f90df357472661c65a1431dc28ec89c7c8cd897f281" +
				"376fa9fe0cc525f79bc435564a72b2decaaa9bf86d2ffdc0b928e1906004dbea" +
				"7660eca23b45f70151bd3d28f4c7e7cd4c9623d2fa3448fb52b122dca44fdd21" +
				"7852e8ef02f0f8826f54e45310ea032395cbc502ffd5931f5387c5633cdc4816" +
				"8238588a90c024fecd1f3308fc2c7c78ea1d107ce63ac729a2ea3447f3e3679f" +
				"75e0d2d0dd24fab2fabc4c8595788eb062ac3809494a5cf172f11fe94b3b5591",
			serialModulus: "a0b943143b5321e7f8a7cb839b25e858368c71f2ea59655a45fcc83aaab66e6e" +
				"884002d2f1a44d842e18dadc56063b8fed25a6ae33f2f2879be458db613b0eee" +
				"39126822c91038cdc2fc08be974b93fe9616b2a56ab203e330c3f6c58c51f5ab" +
				"bd76e1f4632b8d3b65b8595da6dfba758cec8929f23fd9727eafa9ead7227dee" +
				"66429c3884f067a9",
			serialG: "6bfe314ab5f99470b699e1ac197ecce03d432f52b85f8eb64255d443009b047e" +
				"83db97f859010ea60243fa973db8536e1ea60a502c863aeb9fe52afe508e0c02" +
				"9fce08ba867567b3798c557da171d39ca25e42bae6e0b47b8778d95926b941ba" +
				"5e860057ba5c2506fe3b6ff56fa281e7313bebeffc34490f553aca38f483cfcc" +
				"7e31a4a8e4bfdfbb",
			serialH: "68c2aaf88838eb5fb8c4d3e23696e325753402f5c65502ea4c1cd7b18cb5c508" +
				"ad5a5e7d83f0ece1eaaf99919d80536d58f68ffc618dba61d66c2bcd674f7e66" +
				"7b2fd60174ed3a5d28b0c85073f5416a13ece373b4dd72f0cc650aaec3fa6c28" +
				"d01c62859ca37e3a139e4abe2abbba2b0a9739b750faa753087f89e1ad36d5e6" +
				"6292dad211582def",
			pokOrder: "171cda2b25acb8020be6164bedba581aa4a4a6ef206eebded92ee7dd7f70a2a6" +
				"f",
			pokModulus: "8c160f58e7cae5945d87514d8c912c5073cd17cfe6c8c0c945af9ba5b1b956cf" +
				"3afda349bd350e186185bf35b78516040eb9d7dcaf0105790fd47fc4ec1633be" +
				"afa24c4331fca2f9eb7f57e02c6518838c8d0003ac26fc8567fa85c106e4db55" +
				"74cefe3789991ed0fad99997650da964cbcec9a77cb8e7978a900e71449f617f",
			pokG: "439b431b329f9e74fef4e2f4cd0d48204336f39988b6d36727e7b0fec4a71888" +
				"5c4b5f61d80e884b6f23e0fb3483e58d6d9be08df5e439ff9863e050f49bbc6e" +
				"b73dcb3aa0cb0d93754b619481a55bd5a6213437d5d5eea229b6be01a4b989c8" +
				"07621fdfeaf881b4a31fb857a2a4a5ed0f5e3c3d8334ce310a7bcaa9aa62018b",
			pokH: "42c1be51a24109fb364bb970a3d887bf858c1d6143625326814bb4dcd14d5ffd" +
				"de1c7739643af3833ebbe7f9cb3d7725454bc8950c83ca3c9cba8356a4c3fd21" +
				"710825f7acd276b5ff5aa6a88fa2499418e76a6829398ab188eafb77fd1a9389" +
				"113427b0d1ba40935313da5e3ff335b2f65b1e932ea6115074b750e9ce169895",
		},
		primeRounds,
	)
}

// RegtestParams returns smaller parameters that keep regression tests fast.
func RegtestParams(primeRounds int) *Params {
	return newParams(
		groups{
			coinModulus: "d1530cfbc47a7bef429d51e647b993acf0ba9bd305bed7c77afd996565585249" +
				"f9b4fbd2e219b42e5e27dacdd36ccd4ddc209238074957a270606ec52f970b69",
			coinOrder: "ea03b1cf8f4f130195a2ea4b932fa7858a67130a88e81b7bf7f46ce5e801bb71",
			coinG: "7988e4bbcf5d678f6d9b0ce1c3fc296f87060b797a455e6b0728998822947047" +
				"4523b9cb756a909fb0f687fa85c254a95d9c6a068d7f4905dd1662aa6641bce4",
			coinH: "b23383ac6327b86272c272f5c29a8c65835a67e0e4bd45b7b1a339f3e3b0d891" +
				"ab98db93cff5070e770420094ff741d6e706593ff372ba6af644a3d46010f36a",
			accModulus: "55f77bc397c964199fe869573f0818e68fdd00f9373c99ab1a355dee33daaf22" +
				"93112c8618e09a812fa79b7c1dd3175e15df427649c6f81d078513ab32c0d2d9" +
				"5f43e237b10e29bfe1bd6da61db21d1d20c433cc12ca91b1bba56f3d4e54a56e" +
				"1a50f5f15adcafd36a6ff53c20149ce7fc51dc7a8f12a04eb9ef3e873e1431b9",
			serialModulus: "8e5c369764a6f05d4fe4934ab67aac2c153029056b36b8db803e344741c46508" +
				"a0dd6e6b1b7430766d81454c5397a6332cf6071675bf8c8da5259bde98b2c902" +
				"b3ad72a4443f724d",
			serialG: "80f8d81033e153fd578d6e3ae9169407ca98c9d36fe577f88e716cc9447bf24b" +
				"05fab7594655a2451aece8bcc231c435571dc1a6fe7ac774180bf1fa92270840" +
				"669fd6477aa19f73",
			serialH: "6d2334eda240b9292c0a821e8fff46621287f1c4aa67fefeb550916ef1405685" +
				"432c6474c94a12b500dda52871d272ddf446bbdd86adc53c505ff98a264d55c3" +
				"830227dfa881b05a",
			pokOrder: "1e53ac680e2652baf4f71f0ee1a4c741f0bb336b7cf3c3586d3edbea7aa51674" +
				"7",
			pokModulus: "a4770535a2b5d270b6c05a729c9a3487352c3aa665cd0e86d36483f13e09148f" +
				"dfaec4c446daea1ac761234eb2b8c6e6fcf230cd7289161271f2b02bfff568dd",
			pokG: "3da6b67e424d5fec6fa7b0720b66ea9ec941a83e7e05c82a50ba66432fb93a11" +
				"e6c01a7051379cd03f530ddab7daa0d637109107919e78b9534fe5658f3282f4",
			pokH: "7669cf244c85d9de7076e06852039bcd66aaf8262c3dc1a3f78f7790685aae6a" +
				"b0a39c7e08b406da30a9b37c8934d4c037d880965123598eeae98ae4aa8fdc23",
		},
		primeRounds,
	)
}

// Validate checks the structural properties of the parameters.
func (p *Params) Validate() error {
	if p.PrimeRounds < MinPrimeRounds {
		return errors.NewConfigurationError("zerocoin prime rounds %d below minimum %d", p.PrimeRounds, MinPrimeRounds)
	}

	one := big.NewInt(1)

	pMinusOne := new(big.Int).Sub(p.P, one)
	if new(big.Int).Mod(pMinusOne, p.Q).Sign() != 0 {
		return errors.NewConfigurationError("zerocoin group order does not divide p-1")
	}

	coinGroup := IntegerGroup{Modulus: p.P, Order: p.Q, G: p.G, H: p.H}

	for name, group := range map[string]IntegerGroup{
		"coin":   coinGroup,
		"serial": p.SerialGroup,
		"pok":    p.AccPoKGroup,
	} {
		if err := group.validate(); err != nil {
			return errors.NewConfigurationError("zerocoin %s group invalid", name, err)
		}
	}

	if p.N.BitLen() < 1000 {
		return errors.NewConfigurationError("accumulator modulus too small")
	}

	if p.AccPoKGroup.Order.BitLen() <= p.Q.BitLen() {
		return errors.NewConfigurationError("accumulator proof group order too small")
	}

	return nil
}

func (g IntegerGroup) validate() error {
	one := big.NewInt(1)

	if new(big.Int).Mod(new(big.Int).Sub(g.Modulus, one), g.Order).Sign() != 0 {
		return errors.NewConfigurationError("group order does not divide modulus-1")
	}

	for name, gen := range map[string]*big.Int{"g": g.G, "h": g.H} {
		if gen.Cmp(one) <= 0 || gen.Cmp(g.Modulus) >= 0 {
			return errors.NewConfigurationError("generator %s out of range", name)
		}

		if new(big.Int).Exp(gen, g.Order, g.Modulus).Cmp(one) != 0 {
			return errors.NewConfigurationError("generator %s does not have the group order", name)
		}
	}

	return nil
}
